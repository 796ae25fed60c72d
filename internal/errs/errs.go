package errs

import (
	"errors"
	"fmt"
)

// ErrNotFound — запрошенная локальная сущность исчезла (фатально для
// конкретной единицы работы, не для всей пачки).
var ErrNotFound = errors.New("not found")

// TransportError — сетевая/HTTP ошибка внешнего вызова. Ретраибельна для
// читающих операций.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: http %d", e.Op, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolFault — внешняя система вернула структурированную ошибку.
// Повтор без изменения входа смысла не имеет.
type ProtocolFault struct {
	Op      string
	Code    string
	Message string
}

func (e *ProtocolFault) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: remote fault %s: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: remote fault: %s", e.Op, e.Message)
}

// ParseError — ответ не декодируется в ожидаемую схему.
type ParseError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InconsistentStateError — компенсирующая запись тоже не прошла. Дальше
// только руками оператора; автоматическое продолжение запрещено.
type InconsistentStateError struct {
	PackageID    uint64
	Primary      error
	Compensation error
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("package %d left inconsistent: write failed (%v), compensation failed (%v)",
		e.PackageID, e.Primary, e.Compensation)
}

// PersistenceError — ошибка хранилища на чтении/записи.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsProtocolFault(err error) bool {
	var pf *ProtocolFault
	return errors.As(err, &pf)
}

func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func IsInconsistentState(err error) bool {
	var ie *InconsistentStateError
	return errors.As(err, &ie)
}
