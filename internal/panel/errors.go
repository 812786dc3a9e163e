package panel

import "errors"

// ErrNotFound возвращается, когда ресурс отсутствует на панели.
// Классифицируется как постоянная ошибка: повтор не поможет.
var ErrNotFound = errors.New("panel: not found")

// Class — классификация исхода вызова панели.
// Transient повторяется с backoff, Permanent — нет.
type Class string

const (
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
)

// Error — классифицированная ошибка вызова панели. Машина состояний
// и bulk-исполнитель принимают решения именно по классу, операторы
// видят класс вместо сырой транспортной ошибки.
type Error struct {
	Class      Class
	StatusCode int // 0 для транспортных ошибок
	Method     string
	Endpoint   string
	Message    string
}

func (e *Error) Error() string {
	return "panel: " + e.Method + " " + e.Endpoint + ": " + e.Message
}

// IsTransient сообщает, стоит ли повторять операцию.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class == ClassTransient
	}
	return false
}

// IsPermanent сообщает, что повтор бессмыслен и нужно решение оператора.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class == ClassPermanent
	}
	return false
}
