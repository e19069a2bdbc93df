package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrFormat означает, что транспорт отклонил текст из-за некорректной разметки.
var ErrFormat = errors.New("transport rejected markup")

// ErrStructuralViolation означает нарушение инварианта нарезки (кусок длиннее лимита).
var ErrStructuralViolation = errors.New("structural violation")

// RenderMode задаёт строгость интерпретации разметки при отправке.
type RenderMode int

const (
	// RenderRich отправляет исходную разметку без изменений.
	RenderRich RenderMode = iota
	// RenderSanitized отправляет разметку после дополнительной чистки.
	RenderSanitized
	// RenderStrictEscaped убирает разметку и экранирует спецсимволы.
	RenderStrictEscaped
	// RenderPlain отправляет обычный текст без режима разметки.
	RenderPlain
)

// AllRenderModes перечисляет режимы в порядке ослабления.
var AllRenderModes = []RenderMode{RenderRich, RenderSanitized, RenderStrictEscaped, RenderPlain}

// Next возвращает следующий, более слабый режим.
func (m RenderMode) Next() (RenderMode, bool) {
	if m < RenderRich || m >= RenderPlain {
		return m, false
	}
	return m + 1, true
}

func (m RenderMode) String() string {
	switch m {
	case RenderRich:
		return "rich"
	case RenderSanitized:
		return "sanitized"
	case RenderStrictEscaped:
		return "strict_escaped"
	case RenderPlain:
		return "plain"
	default:
		return "unknown"
	}
}

// ChunkPosition описывает место куска в многочастном сообщении.
type ChunkPosition int

const (
	// PositionOnly — сообщение из одной части.
	PositionOnly ChunkPosition = iota
	// PositionFirst — первая часть.
	PositionFirst
	// PositionMiddle — промежуточная часть.
	PositionMiddle
	// PositionLast — последняя часть.
	PositionLast
)

// PositionOf определяет позицию части index (с нуля) из total.
func PositionOf(index, total int) ChunkPosition {
	switch {
	case total <= 1:
		return PositionOnly
	case index == 0:
		return PositionFirst
	case index == total-1:
		return PositionLast
	default:
		return PositionMiddle
	}
}

// DeliveryOutcome описывает результат доставки одного куска.
type DeliveryOutcome struct {
	Index    int
	Mode     RenderMode
	Attempts []RenderMode
	Err      error
}

// Delivered сообщает, был ли кусок доставлен в каком-либо режиме.
func (o DeliveryOutcome) Delivered() bool {
	return o.Err == nil && len(o.Attempts) > 0
}

// DeliveryStatus описывает агрегированный итог отправки.
type DeliveryStatus int

const (
	// DeliverySent: доставлены все части.
	DeliverySent DeliveryStatus = iota
	// DeliveryPartiallyFailed: часть кусков не доставлена.
	DeliveryPartiallyFailed
)

func (s DeliveryStatus) String() string {
	if s == DeliverySent {
		return "sent"
	}
	return "partially_failed"
}

// DeliveryReport агрегирует исходы всех кусков одного сообщения.
type DeliveryReport struct {
	Outcomes []DeliveryOutcome
	// Failed содержит номера (с нуля) недоставленных кусков.
	Failed []int
	// NoticeErrs хранит ошибки отправки уведомлений о сбое по номеру куска.
	NoticeErrs map[int]error
}

// Status возвращает итоговый статус.
func (r DeliveryReport) Status() DeliveryStatus {
	if len(r.Failed) == 0 {
		return DeliverySent
	}
	return DeliveryPartiallyFailed
}

// Modes возвращает режимы, в которых были доставлены куски.
func (r DeliveryReport) Modes() []RenderMode {
	modes := make([]RenderMode, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Delivered() {
			modes = append(modes, o.Mode)
		}
	}
	return modes
}

// Err возвращает *PartialDeliveryError, если доставлены не все части.
func (r DeliveryReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	perr := &PartialDeliveryError{Total: len(r.Outcomes), Failed: append([]int(nil), r.Failed...)}
	for _, o := range r.Outcomes {
		if o.Err != nil {
			perr.First = o.Err
			break
		}
	}
	return perr
}

// PartialDeliveryError описывает недоставленные части сообщения.
type PartialDeliveryError struct {
	Total  int
	Failed []int
	First  error
}

func (e *PartialDeliveryError) Error() string {
	idx := make([]string, 0, len(e.Failed))
	for _, i := range e.Failed {
		idx = append(idx, strconv.Itoa(i+1))
	}
	msg := fmt.Sprintf("delivered %d of %d chunks, failed: %s", e.Total-len(e.Failed), e.Total, strings.Join(idx, ","))
	if e.First != nil {
		msg += ": " + e.First.Error()
	}
	return msg
}

func (e *PartialDeliveryError) Unwrap() error {
	return e.First
}
