package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xiaot623/zuvachat/internal/adapter/chatapi"
	"github.com/xiaot623/zuvachat/internal/config"
	"github.com/xiaot623/zuvachat/internal/domain"
	"github.com/xiaot623/zuvachat/internal/logging"
)

var errExchangeFailed = errors.New("exchange failed")

// result is the outcome of one asked question.
type result struct {
	ExchangeID string
	Status     string
	Message    string
}

func (r *result) failed() bool {
	return r.Status == string(domain.ExchangeStatusFailed)
}

type askFunc func(ctx context.Context, question string, out, errOut io.Writer) (*result, error)

func newAskCmd() *cobra.Command {
	var (
		threadID string
		server   string
		direct   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and print the streamed answer",
		Long: `Ask a question and print the answer as it streams in.

Without a question argument, ask reads questions from stdin, one per line,
until EOF or /quit. Notices about skipped lines are written to stderr.

With --direct the chat API named by CHAT_URL is called without a server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if threadID == "" {
				threadID = "cli_" + uuid.New().String()[:8]
			}

			var ask askFunc
			if direct {
				fn, err := directAsker(threadID, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				ask = fn
			} else {
				client, err := dialWS(ctx, server)
				if err != nil {
					return fmt.Errorf("failed to connect to %s: %w", server, err)
				}
				defer client.Close()
				if err := client.hello(threadID); err != nil {
					return fmt.Errorf("hello failed: %w", err)
				}
				ask = func(_ context.Context, question string, out, errOut io.Writer) (*result, error) {
					requestID, err := client.ask(question)
					if err != nil {
						return nil, err
					}
					return client.follow(requestID, out, errOut)
				}
			}

			if len(args) > 0 {
				return askOnce(ctx, ask, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
			}
			return askLoop(ctx, ask, threadID, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "Thread ID (generated when empty)")
	cmd.Flags().StringVar(&server, "server", "ws://localhost:8080/ws", "zuvachat WebSocket address")
	cmd.Flags().BoolVar(&direct, "direct", false, "Call the chat API directly instead of the server")

	return cmd
}

func askOnce(ctx context.Context, ask askFunc, question string, out, errOut io.Writer) error {
	res, err := ask(ctx, question, out, errOut)
	if err != nil {
		return err
	}
	printResult(res, out, errOut)
	if res.failed() {
		return errExchangeFailed
	}
	return nil
}

func askLoop(ctx context.Context, ask askFunc, threadID string, in io.Reader, out, errOut io.Writer) error {
	fmt.Fprintf(out, "Thread: %s\n", threadID)
	fmt.Fprintln(out, "Type a question and press Enter. /quit to exit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" {
			fmt.Fprintln(out, "Bye!")
			return nil
		}

		if err := askOnce(ctx, ask, input, out, errOut); err != nil && !errors.Is(err, errExchangeFailed) {
			return err
		}
	}
}

func printResult(res *result, out, errOut io.Writer) {
	fmt.Fprintln(out)
	if res.failed() {
		fmt.Fprintln(errOut, res.Message)
		return
	}
	fmt.Fprintln(out, res.Message)
	if res.ExchangeID != "" {
		fmt.Fprintf(out, "exchange: %s\n", res.ExchangeID)
	}
}

// directAsker reads the answer straight from the chat API.
func directAsker(threadID string, logOut io.Writer) (askFunc, error) {
	cfg := config.Load(".env")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: true, Output: logOut})
	client := chatapi.NewChatClient(cfg, logger)

	return func(ctx context.Context, question string, out, errOut io.Writer) (*result, error) {
		req := domain.AskRequest{Question: question, ThreadID: threadID}
		exchange := domain.NewExchange("", req, time.Now())

		st, err := client.Open(ctx, &chatapi.Request{Question: question, ThreadID: threadID})
		if err != nil {
			exchange.Fail(chatapi.KindOf(err), err.Error(), time.Now())
			return resultOf(exchange), nil
		}
		defer st.Close()

		for st.Next() {
			f := st.Current()
			fmt.Fprint(out, f.Text)
			if f.Diagnostic {
				fmt.Fprintf(errOut, "warning: %s", f.Text)
			}
		}
		if err := st.Err(); err != nil {
			exchange.Fail(chatapi.KindOf(err), err.Error(), time.Now())
		} else {
			exchange.Complete(st.Accumulator(), time.Now())
		}
		return resultOf(exchange), nil
	}, nil
}

func resultOf(e *domain.Exchange) *result {
	return &result{
		ExchangeID: e.ExchangeID,
		Status:     string(e.Status),
		Message:    e.Summary(),
	}
}
