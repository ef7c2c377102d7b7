// Command mailindexd wires the Index subsystem to a minimal line-delimited
// JSON-RPC stdio loop. The wire protocol itself is intentionally thin —
// framing, batching, and authentication live outside this subsystem's
// scope — this exists only so the module is a runnable program.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felo/mailindex/internal/config"
	"github.com/felo/mailindex/internal/logging"
	"github.com/felo/mailindex/internal/manager"
	"github.com/felo/mailindex/internal/search"
)

type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mailindex: load config:", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr)

	m, err := manager.GetInstance(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open index")
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		_ = m.Close()
	}()

	serve(ctx, m)
}

func serve(ctx context.Context, m *manager.Manager) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(response{Error: "invalid request: " + err.Error()})
			continue
		}

		result, err := dispatch(ctx, m, req)
		resp := response{ID: req.ID}
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}
		_ = enc.Encode(resp)
	}
}

func dispatch(ctx context.Context, m *manager.Manager, req request) (any, error) {
	switch req.Method {
	case "search":
		var p struct {
			Query   string         `json:"query"`
			Options search.Options `json:"options"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return m.Search(ctx, p.Query, p.Options)

	case "search_attachments":
		var p struct {
			Query   string         `json:"query"`
			Options search.Options `json:"options"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return m.SearchAttachments(ctx, p.Query, p.Options)

	case "list_accounts":
		return m.ListAccounts(ctx)

	case "get_emails":
		var p struct {
			Limit   int    `json:"limit"`
			Account string `json:"account"`
			Mailbox string `json:"mailbox"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return m.GetEmails(ctx, p.Limit, p.Account, p.Mailbox)

	case "get_email_attachments":
		var p struct {
			RowID int64 `json:"row_id"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return m.GetEmailAttachments(ctx, p.RowID)

	case "find_email_location":
		var p struct {
			MessageID int64  `json:"message_id"`
			Account   string `json:"account"`
			Mailbox   string `json:"mailbox"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return m.FindEmailLocation(ctx, p.MessageID, p.Account, p.Mailbox)

	case "find_email_path":
		var p struct {
			MessageID int64  `json:"message_id"`
			Account   string `json:"account"`
			Mailbox   string `json:"mailbox"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return m.FindEmailPath(ctx, p.MessageID, p.Account, p.Mailbox)

	case "get_stats":
		return m.GetStats(ctx)

	case "sync_updates":
		return m.SyncUpdates(ctx)

	case "start_watcher":
		return nil, m.StartWatcher(ctx)

	case "stop_watcher":
		return nil, m.StopWatcher()

	case "has_index":
		return m.HasIndex(), nil

	case "is_stale":
		return m.IsStale(ctx)

	case "close":
		return nil, m.Close()

	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}
