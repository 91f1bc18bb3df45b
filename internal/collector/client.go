package collector

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-ballista/internal/bench"
)

// Client pushes one rank's latency samples to the coordinator's collector.
type Client struct {
	addr   string
	client flight.Client
}

func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// Connect dials the coordinator.
func (c *Client) Connect() error {
	client, err := flight.NewClientWithMiddleware(c.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("collector: dial %s: %w", c.addr, err)
	}
	c.client = client
	return nil
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Push streams the samples as a single record batch and waits for the ack.
func (c *Client) Push(ctx context.Context, samples []bench.Sample) error {
	if c.client == nil {
		return fmt.Errorf("collector: client not connected, call Connect first")
	}
	if len(samples) == 0 {
		return nil
	}

	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("collector: DoPut: %w", err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(SampleSchema))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{DescriptorPath},
	})

	rec := samplesToRecord(samples)
	defer rec.Release()

	if err := wr.Write(rec); err != nil {
		return fmt.Errorf("collector: write record: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("collector: close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("collector: close stream: %w", err)
	}

	// Drain the ack so the server has committed the batch before we exit.
	if _, err := stream.Recv(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("collector: ack: %w", err)
	}
	return nil
}
