package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/efreitasn/exchangecore/internal/config"
	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/service"
)

const maxReplayLine = 1 << 20

var replayFlags struct {
	bootstrap   string
	restoreFrom int64
	snapshotID  int64
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayFlags.bootstrap, "bootstrap", "", "bootstrap file applied before the first command (defaults to BOOTSTRAP_FILE)")
	replayCmd.Flags().Int64Var(&replayFlags.restoreFrom, "restore", 0, "start from this snapshot id instead of an empty core")
	replayCmd.Flags().Int64Var(&replayFlags.snapshotID, "snapshot-id", 0, "store a checkpoint with this id after the last command")
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Run a JSON-lines command journal through the pipeline and print every result",
	Long: `Reads one JSON command per line from FILE ("-" for stdin), processes the
commands in order and writes each processed command, with its result code
and events, as one JSON line to stdout. The final state hash is printed last.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.shutdown()

		in := io.Reader(os.Stdin)
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		return replay(cmd.Context(), rt, in, cmd.OutOrStdout())
	},
}

func replay(ctx context.Context, rt *runtime, in io.Reader, out io.Writer) error {
	var (
		exchange *service.Exchange
		err      error
	)
	if replayFlags.restoreFrom != 0 {
		exchange, err = service.Restore(replayFlags.restoreFrom, rt.options(), rt.store, nil, rt.logger)
	} else {
		exchange, err = service.NewExchange(rt.options(), rt.store, nil, rt.logger)
	}
	if err != nil {
		return err
	}

	bootstrapFile := replayFlags.bootstrap
	if bootstrapFile == "" && replayFlags.restoreFrom == 0 {
		bootstrapFile = rt.cfg.BootstrapFile
	}
	if bootstrapFile != "" {
		b, err := config.LoadBootstrap(bootstrapFile)
		if err != nil {
			return err
		}
		if err := exchange.Bootstrap(ctx, b); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	var line, processed int
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		cmd, err := decodeCommand(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		// Timestamps end up in resting orders and so in the state hash; a
		// journal replayed twice must hash the same.
		if cmd.Timestamp == 0 {
			cmd.Timestamp = exchange.Seq() + 1
		}
		if err := exchange.Submit(ctx, cmd); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := enc.Encode(cmd); err != nil {
			return err
		}
		processed++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if replayFlags.snapshotID != 0 {
		if _, err := exchange.Checkpoint(ctx, replayFlags.snapshotID); err != nil {
			return err
		}
	}
	hash, err := exchange.StateHash(ctx)
	if err != nil {
		return err
	}
	rt.logger.Info("replay finished", zap.Int("commands", processed), zap.Int64("seq", exchange.Seq()))
	return enc.Encode(struct {
		StateHash string `json:"stateHash"`
		Commands  int    `json:"commands"`
	}{fmt.Sprintf("%016x", hash), processed})
}

// decodeCommand parses one journal line. Output-only fields are ignored.
func decodeCommand(raw []byte) (*domain.OrderCommand, error) {
	var in struct {
		Command         domain.CommandType `json:"command"`
		OrderID         int64              `json:"orderId"`
		UID             int64              `json:"uid"`
		Symbol          int32              `json:"symbol"`
		Price           int64              `json:"price"`
		Size            int64              `json:"size"`
		ReserveBidPrice int64              `json:"reserveBidPrice"`
		Action          domain.OrderAction `json:"action"`
		OrderType       domain.OrderType   `json:"orderType"`
		Timestamp       int64              `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("invalid command: %v", err)}
	}
	if in.Command == 0 {
		return nil, &domain.ValidationError{Message: "command is required"}
	}
	return &domain.OrderCommand{
		Command:         in.Command,
		OrderID:         in.OrderID,
		UID:             in.UID,
		Symbol:          in.Symbol,
		Price:           in.Price,
		Size:            in.Size,
		ReserveBidPrice: in.ReserveBidPrice,
		Action:          in.Action,
		OrderType:       in.OrderType,
		Timestamp:       in.Timestamp,
	}, nil
}
