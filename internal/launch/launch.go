package launch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/23skdu/longbow-ballista/internal/logger"
	"github.com/23skdu/longbow-ballista/internal/metrics"
)

// Environment variables that mark a process as a spawned benchmark rank.
const (
	EnvRank       = "BALLISTA_RANK"
	EnvWorldSize  = "BALLISTA_WORLD_SIZE"
	EnvMasterAddr = "BALLISTA_MASTER_ADDR"
)

// Worker describes the identity a spawned rank reads from its environment.
type Worker struct {
	Rank       int
	WorldSize  int
	MasterAddr string
}

// FromEnv reports whether this process was spawned as a rank, and its
// identity if so.
func FromEnv() (Worker, bool, error) {
	rankStr, ok := os.LookupEnv(EnvRank)
	if !ok {
		return Worker{}, false, nil
	}

	rank, err := strconv.Atoi(rankStr)
	if err != nil {
		return Worker{}, false, fmt.Errorf("launch: bad %s %q: %w", EnvRank, rankStr, err)
	}
	world, err := strconv.Atoi(os.Getenv(EnvWorldSize))
	if err != nil {
		return Worker{}, false, fmt.Errorf("launch: bad %s: %w", EnvWorldSize, err)
	}
	addr := os.Getenv(EnvMasterAddr)
	if addr == "" {
		return Worker{}, false, fmt.Errorf("launch: %s not set", EnvMasterAddr)
	}
	if rank < 0 || rank >= world {
		return Worker{}, false, fmt.Errorf("launch: rank %d out of range for world size %d", rank, world)
	}
	return Worker{Rank: rank, WorldSize: world, MasterAddr: addr}, true, nil
}

// Spawn re-executes this binary once per rank with the rank identity in the
// environment, and waits for all of them. The first failing rank terminates
// the whole group; every rank is still waited on before returning.
func Spawn(ctx context.Context, worldSize int, masterAddr string, log *logger.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("launch: resolve executable: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, worldSize)

	for rank := 0; rank < worldSize; rank++ {
		cmd := exec.CommandContext(ctx, exe, os.Args[1:]...)
		cmd.Env = append(os.Environ(),
			EnvRank+"="+strconv.Itoa(rank),
			EnvWorldSize+"="+strconv.Itoa(worldSize),
			EnvMasterAddr+"="+masterAddr,
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			errs[rank] = fmt.Errorf("launch: start rank %d: %w", rank, err)
			cancel()
			continue
		}
		log.Debug("spawned rank", "rank", rank, "pid", cmd.Process.Pid)
		metrics.ActiveRanks.Inc()

		wg.Add(1)
		go func(rank int, cmd *exec.Cmd) {
			defer wg.Done()
			defer metrics.ActiveRanks.Dec()
			if err := cmd.Wait(); err != nil {
				errs[rank] = fmt.Errorf("launch: rank %d: %w", rank, err)
				cancel()
			}
		}(rank, cmd)
	}

	wg.Wait()
	return errors.Join(errs...)
}

// RerunIfAddressInUse runs fn with the preferred port, retrying on a port
// collision with a fresh ephemeral port up to attempts times in total.
func RerunIfAddressInUse(preferredPort, attempts int, log *logger.Logger, fn func(port int) error) error {
	port := preferredPort
	var err error

	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(port)
		if err == nil || !errors.Is(err, syscall.EADDRINUSE) {
			return err
		}

		metrics.RecordLaunchRetry()
		next, perr := FreePort()
		if perr != nil {
			return fmt.Errorf("launch: pick retry port: %w", perr)
		}
		port = next
		log.Warn("address in use, retrying launch", "attempt", attempt+1, "next_port", port)
	}
	return fmt.Errorf("launch: gave up after %d attempts: %w", attempts, err)
}

// FreePort asks the kernel for an unused TCP port.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
