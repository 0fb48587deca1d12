// Package board defines the drawing element data model shared by the HTTP
// and socket front ends, the session layer, and the durable store.
package board

// Element is a tagged drawing primitive. It is represented as a raw JSON
// object so that unknown keys sent by clients survive the round trip through
// the server and the store unchanged. The keys the server itself reads or
// writes are listed below; everything else passes through verbatim.
type Element map[string]any

// Well-known element keys.
const (
	KeyID        = "id"
	KeyType      = "type"
	KeyCreatedBy = "createdBy"
	KeyTimestamp = "timestamp"
	KeyUpdatedBy = "updatedBy"
	KeyUpdatedAt = "updatedAt"
	KeyMovedBy   = "movedBy"
	KeyMovedAt   = "movedAt"
)

// Element type discriminants.
const (
	TypeRectangle = "rectangle"
	TypeCircle    = "circle"
	TypeLine      = "line"
	TypeArrow     = "arrow"
	TypePen       = "pen"
	TypeText      = "text"
	TypeNote      = "note"
)

// OriginAPI is the createdBy/updatedBy marker for HTTP-originated mutations.
const OriginAPI = "api"

// ID returns the element identifier, or "" if unset.
func (e Element) ID() string {
	return e.stringField(KeyID)
}

// Type returns the element type discriminant, or "" if unset.
func (e Element) Type() string {
	return e.stringField(KeyType)
}

// SetID sets the element identifier.
func (e Element) SetID(id string) {
	e[KeyID] = id
}

// Clone returns a copy of the element that can be mutated without affecting
// the original. Nested values are shared; the server treats element payloads
// as immutable once applied, so top-level copying is sufficient.
func (e Element) Clone() Element {
	out := make(Element, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// StampCreated records who created the element and when (millisecond Unix time).
func (e Element) StampCreated(by string, millis int64) {
	e[KeyCreatedBy] = by
	e[KeyTimestamp] = millis
}

// StampUpdated records the most recent update.
func (e Element) StampUpdated(by string, millis int64) {
	e[KeyUpdatedBy] = by
	e[KeyUpdatedAt] = millis
}

// StampMoved records the most recent move.
func (e Element) StampMoved(by string, millis int64) {
	e[KeyMovedBy] = by
	e[KeyMovedAt] = millis
}

// Merge returns a new element that is the receiver overlaid with patch,
// keeping the receiver's identifier regardless of what the patch carries.
func (e Element) Merge(patch Element) Element {
	out := e.Clone()
	for k, v := range patch {
		out[k] = v
	}
	out[KeyID] = e.ID()
	return out
}

func (e Element) stringField(key string) string {
	v, ok := e[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
