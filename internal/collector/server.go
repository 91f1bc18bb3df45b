package collector

import (
	"context"
	"io"
	"net"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-ballista/internal/bench"
	"github.com/23skdu/longbow-ballista/internal/logger"
)

// Server aggregates latency samples DoPut by benchmark ranks. It runs on the
// coordinator for the duration of one distributed launch.
type Server struct {
	flight.BaseFlightServer

	mu      sync.Mutex
	samples []bench.Sample
	ranks   map[int]bool

	srv flight.Server
}

func NewServer() *Server {
	return &Server{ranks: make(map[int]bool)}
}

// Start binds addr (host:port, port may be 0) and serves in the background.
// A port collision surfaces here as the listen error.
func (s *Server) Start(addr string) error {
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init(addr); err != nil {
		return err
	}
	srv.RegisterFlightService(s)
	s.srv = srv

	go func() {
		if err := srv.Serve(); err != nil {
			logger.Log.Error("collector serve", "error", err)
		}
	}()
	return nil
}

func (s *Server) Addr() net.Addr {
	return s.srv.Addr()
}

func (s *Server) Shutdown() {
	if s.srv != nil {
		s.srv.Shutdown()
	}
}

// DoPut receives one rank's sample batches.
func (s *Server) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	for rdr.Next() {
		batch, err := recordToSamples(rdr.Record())
		if err != nil {
			return err
		}
		s.add(batch)
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return err
	}

	return stream.Send(&flight.PutResult{})
}

// ListFlights advertises the single latency stream and its current size.
func (s *Server) ListFlights(_ *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	s.mu.Lock()
	rows := int64(len(s.samples))
	s.mu.Unlock()

	return stream.Send(&flight.FlightInfo{
		Schema: flight.SerializeSchema(SampleSchema, memory.DefaultAllocator),
		FlightDescriptor: &flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: []string{DescriptorPath},
		},
		TotalRecords: rows,
		TotalBytes:   -1,
	})
}

// GetSchema lets clients introspect the sample schema.
func (s *Server) GetSchema(_ context.Context, _ *flight.FlightDescriptor) (*flight.SchemaResult, error) {
	return &flight.SchemaResult{
		Schema: flight.SerializeSchema(SampleSchema, memory.DefaultAllocator),
	}, nil
}

func (s *Server) add(batch []bench.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, batch...)
	for _, smp := range batch {
		s.ranks[smp.Rank] = true
	}
}

// Samples returns everything received so far, ordered by (rank, iter).
func (s *Server) Samples() []bench.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]bench.Sample, len(s.samples))
	copy(out, s.samples)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Iter < out[j].Iter
	})
	return out
}

// RankCount reports how many distinct ranks have pushed samples.
func (s *Server) RankCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ranks)
}
