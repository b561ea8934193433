package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThenGet(t *testing.T) {
	s := NewStore()
	result, err := s.Create("/a", Config{ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, Created, result)

	st, ok := s.Get("/a")
	require.True(t, ok)
	assert.Equal(t, FormatOffset(0, 0), st.CurrentOffset)
}

func TestCreateIsIdempotentForMatchingConfig(t *testing.T) {
	s := NewStore()
	_, err := s.Create("/a", Config{ContentType: "text/plain"})
	require.NoError(t, err)

	result, err := s.Create("/a", Config{ContentType: "text/plain; charset=utf-8"})
	require.NoError(t, err)
	assert.Equal(t, Existed, result)
}

func TestCreateRejectsConfigMismatch(t *testing.T) {
	s := NewStore()
	_, err := s.Create("/a", Config{ContentType: "text/plain"})
	require.NoError(t, err)

	_, err = s.Create("/a", Config{ContentType: "application/json"})
	require.Error(t, err)
	assert.True(t, IsConfigMismatch(err))
}

func TestAppendAdvancesOffset(t *testing.T) {
	s := NewStore()
	_, err := s.Create("/a", Config{ContentType: "text/plain"})
	require.NoError(t, err)

	offset1, err := s.Append("/a", []byte("hello"), "text/plain", "")
	require.NoError(t, err)
	assert.Equal(t, FormatOffset(0, 5), offset1)

	offset2, err := s.Append("/a", []byte("!!"), "text/plain", "")
	require.NoError(t, err)
	assert.Equal(t, FormatOffset(0, 7), offset2)
}

func TestAppendRejectsEmptyBody(t *testing.T) {
	s := NewStore()
	_, _ = s.Create("/a", Config{})
	_, err := s.Append("/a", nil, "", "")
	require.Error(t, err)
	assert.True(t, IsEmptyBody(err))
}

func TestAppendRejectsContentTypeMismatch(t *testing.T) {
	s := NewStore()
	_, _ = s.Create("/a", Config{ContentType: "text/plain"})
	_, err := s.Append("/a", []byte("x"), "application/json", "")
	require.Error(t, err)
	assert.True(t, IsContentTypeMismatch(err))
}

func TestAppendEnforcesStrictlyIncreasingSeq(t *testing.T) {
	s := NewStore()
	_, _ = s.Create("/a", Config{})
	_, err := s.Append("/a", []byte("x"), "", "2")
	require.NoError(t, err)

	_, err = s.Append("/a", []byte("y"), "", "2")
	require.Error(t, err)
	assert.True(t, IsSequenceConflict(err))

	_, err = s.Append("/a", []byte("z"), "", "3")
	require.NoError(t, err)
}

func TestJSONStreamRejectsEmptyArray(t *testing.T) {
	s := NewStore()
	_, _ = s.Create("/a", Config{ContentType: "application/json"})
	_, err := s.Append("/a", []byte("[]"), "application/json", "")
	require.Error(t, err)
	assert.True(t, IsEmptyArrayNotAllowed(err))
}

func TestJSONStreamReadMaterializesArray(t *testing.T) {
	s := NewStore()
	_, _ = s.Create("/a", Config{ContentType: "application/json"})
	_, err := s.Append("/a", []byte(`{"a":1}`), "application/json", "")
	require.NoError(t, err)
	_, err = s.Append("/a", []byte(`{"b":2}`), "application/json", "")
	require.NoError(t, err)

	result, err := s.Read("/a", "-1")
	require.NoError(t, err)
	body := s.FormatResponse("/a", result.Messages)
	assert.Equal(t, `[{"a":1},{"b":2}]`, string(body))
	assert.True(t, result.UpToDate)
}

func TestReadWithOffsetMinusOneReturnsFromBeginning(t *testing.T) {
	s := NewStore()
	_, _ = s.Create("/a", Config{})
	_, _ = s.Append("/a", []byte("x"), "", "")

	result, err := s.Read("/a", "-1")
	require.NoError(t, err)
	assert.Len(t, result.Messages, 1)
}

func TestReadRejectsInvalidOffset(t *testing.T) {
	s := NewStore()
	_, _ = s.Create("/a", Config{})
	_, err := s.Read("/a", "not-an-offset")
	require.Error(t, err)
	assert.True(t, IsInvalidOffset(err))
}

func TestReadOnMissingStreamReturnsNotFound(t *testing.T) {
	s := NewStore()
	_, err := s.Read("/missing", "-1")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestDeleteReportsWhetherStreamExisted(t *testing.T) {
	s := NewStore()
	_, _ = s.Create("/a", Config{})
	assert.True(t, s.Delete("/a"))
	assert.False(t, s.Delete("/a"))
}

func TestSubscribeReceivesAppendNotification(t *testing.T) {
	s := NewStore()
	_, _ = s.Create("/a", Config{})

	notifications, cancel := s.Subscribe()
	defer cancel()

	_, err := s.Append("/a", []byte("x"), "", "")
	require.NoError(t, err)

	n := <-notifications
	assert.Equal(t, "/a", n.Path)
}

func TestCompareOffsets(t *testing.T) {
	assert.Equal(t, 0, CompareOffsets(FormatOffset(0, 5), FormatOffset(0, 5)))
	assert.Equal(t, -1, CompareOffsets(FormatOffset(0, 1), FormatOffset(0, 5)))
	assert.Equal(t, 1, CompareOffsets(FormatOffset(1, 0), FormatOffset(0, 999)))
}
