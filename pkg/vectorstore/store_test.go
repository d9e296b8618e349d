package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
)

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func TestHitFromPoint_PayloadFields(t *testing.T) {
	point := &qdrant.ScoredPoint{
		Id:    qdrant.NewID("3f2c1a90-0000-0000-0000-000000000001"),
		Score: 0.91,
		Payload: map[string]*qdrant.Value{
			"source_id": stringValue("cc-1373"),
			"citation":  stringValue("art. 1373 c.c."),
			"text":      stringValue("Il recesso unilaterale"),
			"kind":      stringValue("norm"),
		},
	}

	hit := hitFromPoint(point)
	assert.Equal(t, "cc-1373", hit.SourceID)
	assert.Equal(t, "art. 1373 c.c.", hit.Citation)
	assert.Equal(t, "Il recesso unilaterale", hit.Snippet)
	assert.InDelta(t, 0.91, hit.Relevance, 1e-6)
	assert.Equal(t, "norm", hit.Metadata["kind"])
	assert.NotContains(t, hit.Metadata, "source_id")
	assert.NotContains(t, hit.Metadata, "citation")
}

func TestHitFromPoint_FallsBackToPointID(t *testing.T) {
	point := &qdrant.ScoredPoint{
		Id:    qdrant.NewIDNum(42),
		Score: 1.2,
	}

	hit := hitFromPoint(point)
	assert.Equal(t, "42", hit.SourceID)
	assert.Equal(t, 1.0, hit.Relevance)
	assert.Nil(t, hit.Metadata)
}

func TestPayloadValue(t *testing.T) {
	assert.Equal(t, "x", payloadValue(stringValue("x")))
	assert.Equal(t, int64(7), payloadValue(&qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: 7}}))
	assert.Equal(t, 0.5, payloadValue(&qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: 0.5}}))
	assert.Equal(t, true, payloadValue(&qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: true}}))

	list := payloadValue(&qdrant.Value{Kind: &qdrant.Value_ListValue{
		ListValue: &qdrant.ListValue{Values: []*qdrant.Value{stringValue("a"), stringValue("b")}},
	}})
	assert.Equal(t, []any{"a", "b"}, list)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.3))
	assert.Equal(t, 0.42, clamp01(0.42))
	assert.Equal(t, 1.0, clamp01(1.7))
}
