package domain

import "time"

// PhotoRef ссылается на фото, загруженное в Telegram.
type PhotoRef struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	FileSize     int    `json:"file_size,omitempty"`
}

// Image хранит скачанное изображение.
type Image struct {
	MIME string
	Data []byte
}

// ReplyJob описывает задачу на подготовку и доставку ответа пользователю.
type ReplyJob struct {
	ID          string     `json:"job_id"`
	ChatID      int64      `json:"chat_id"`
	UserID      int64      `json:"user_id"`
	MessageID   int        `json:"message_id,omitempty"`
	Text        string     `json:"text,omitempty"`
	Photos      []PhotoRef `json:"photos,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
}

// Роли реплик в истории диалога.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn описывает реплику в истории диалога.
type ChatTurn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// DeliveryRecord описывает запись журнала доставки ответа.
type DeliveryRecord struct {
	JobID       string
	ChatID      int64
	Chunks      int
	Failed      []int
	Modes       []RenderMode
	Status      DeliveryStatus
	Error       string
	DeliveredAt time.Time
}
