package board

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKnownTypes(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{
		TypeRectangle, TypeCircle, TypeLine, TypeArrow, TypePen, TypeText, TypeNote,
	} {
		assert.NoError(t, Validate(Element{KeyType: typ}), typ)
	}
}

func TestValidateRejectsMissingAndUnknownType(t *testing.T) {
	t.Parallel()

	err := Validate(Element{"x": 1.0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidElement)

	err = Validate(Element{KeyType: "hexagon"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidElement)

	assert.ErrorIs(t, Validate(nil), ErrInvalidElement)
}

func TestValidateBatchShortCircuits(t *testing.T) {
	t.Parallel()

	err := ValidateBatch([]Element{
		{KeyType: TypeRectangle},
		{KeyType: "blob"},
		{KeyType: TypeCircle},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidElement)
	assert.Contains(t, err.Error(), "element 1")
}

func TestUnknownKeysSurviveRoundTrip(t *testing.T) {
	t.Parallel()

	in := []byte(`{"type":"rectangle","id":"el-1","x":10,"y":20,"width":30,"height":40,"customTag":"present","meta":{"layer":3}}`)

	var e Element
	require.NoError(t, json.Unmarshal(in, &e))
	require.NoError(t, Validate(e))

	out, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "present", decoded["customTag"])
	assert.Equal(t, map[string]any{"layer": 3.0}, decoded["meta"])
}

func TestMergePreservesIdentifier(t *testing.T) {
	t.Parallel()

	orig := Element{KeyID: "el-1", KeyType: TypeText, "x": 1.0, "text": "hi"}
	merged := orig.Merge(Element{KeyID: "el-other", "text": "bye", "fontSize": 20.0})

	assert.Equal(t, "el-1", merged.ID())
	assert.Equal(t, "bye", merged["text"])
	assert.Equal(t, 20.0, merged["fontSize"])
	// The original is untouched.
	assert.Equal(t, "hi", orig["text"])
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	orig := Element{KeyID: "el-1", KeyType: TypePen}
	cp := orig.Clone()
	cp[KeyID] = "el-2"

	assert.Equal(t, "el-1", orig.ID())
	assert.Equal(t, "el-2", cp.ID())
}

func TestStamps(t *testing.T) {
	t.Parallel()

	e := Element{KeyType: TypeCircle}
	e.StampCreated("u1", 1000)
	e.StampUpdated(OriginAPI, 2000)
	e.StampMoved("u2", 3000)

	assert.Equal(t, "u1", e[KeyCreatedBy])
	assert.Equal(t, int64(1000), e[KeyTimestamp])
	assert.Equal(t, OriginAPI, e[KeyUpdatedBy])
	assert.Equal(t, int64(2000), e[KeyUpdatedAt])
	assert.Equal(t, "u2", e[KeyMovedBy])
	assert.Equal(t, int64(3000), e[KeyMovedAt])
}
