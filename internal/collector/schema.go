package collector

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-ballista/internal/bench"
)

// DescriptorPath identifies the latency-sample stream.
const DescriptorPath = "latency"

// SampleSchema is the wire schema for per-token latency samples exchanged
// between benchmark ranks and the coordinator.
var SampleSchema = arrow.NewSchema([]arrow.Field{
	{Name: "rank", Type: arrow.PrimitiveTypes.Int32},
	{Name: "iter", Type: arrow.PrimitiveTypes.Int32},
	{Name: "seconds", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// samplesToRecord builds one Arrow record batch from a rank's samples.
// The caller releases the record.
func samplesToRecord(samples []bench.Sample) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, SampleSchema)
	defer b.Release()

	rankB := b.Field(0).(*array.Int32Builder)
	iterB := b.Field(1).(*array.Int32Builder)
	secB := b.Field(2).(*array.Float64Builder)

	rankB.Reserve(len(samples))
	iterB.Reserve(len(samples))
	secB.Reserve(len(samples))

	for _, s := range samples {
		rankB.Append(int32(s.Rank))
		iterB.Append(int32(s.Iter))
		secB.Append(s.Seconds)
	}

	return b.NewRecord()
}

// recordToSamples converts a received record batch back to samples.
func recordToSamples(rec arrow.Record) ([]bench.Sample, error) {
	if !rec.Schema().Equal(SampleSchema) {
		return nil, fmt.Errorf("collector: unexpected schema %s", rec.Schema())
	}

	ranks := rec.Column(0).(*array.Int32)
	iters := rec.Column(1).(*array.Int32)
	secs := rec.Column(2).(*array.Float64)

	out := make([]bench.Sample, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		out[i] = bench.Sample{
			Rank:    int(ranks.Value(i)),
			Iter:    int(iters.Value(i)),
			Seconds: secs.Value(i),
		}
	}
	return out, nil
}
