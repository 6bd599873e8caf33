package lock

import (
	"context"
)

// Locker дает эксклюзивный доступ к записи на время read-modify-write.
// Возвращаемую функцию unlock нужно вызвать ровно один раз.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// IncidentKey - ключ блокировки одного инцидента
func IncidentKey(id string) string {
	return "lock:incident:" + id
}
