package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/andaru/epp/codec"
	"github.com/andaru/epp/config"
	"github.com/andaru/epp/epperr"
	"github.com/andaru/epp/session"
	"github.com/spf13/cobra"
)

func newHelloCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hello",
		Short: "Print the server greeting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				g, err := s.Hello(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "server: %s\n", g.ServerID)
				_, _ = fmt.Fprintf(out, "date: %s\n", g.ServerDate.Format(time.RFC3339))
				_, _ = fmt.Fprintf(out, "versions: %s\n", strings.Join(g.Versions, ", "))
				_, _ = fmt.Fprintf(out, "langs: %s\n", strings.Join(g.Langs, ", "))
				for _, uri := range g.ObjectURIs {
					_, _ = fmt.Fprintf(out, "object: %s\n", uri)
				}
				for _, uri := range g.ExtensionURIs {
					_, _ = fmt.Fprintf(out, "extension: %s\n", uri)
				}
				return nil
			})
		},
	}
}

func newPollCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Request or acknowledge service messages",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "req",
			Short: "Request the next queued message",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.poll(cmd, codec.PollRequest, "")
			},
		},
		&cobra.Command{
			Use:   "ack <message-id>",
			Short: "Acknowledge a queued message",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.poll(cmd, codec.PollAck, args[0])
			},
		},
	)
	return cmd
}

func (a *app) poll(cmd *cobra.Command, op codec.PollOp, msgID string) error {
	return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
		resp, err := s.Poll(ctx, op, msgID)
		printResponse(cmd.OutOrStdout(), resp)
		return err
	})
}

func newSendCmd(a *app) *cobra.Command {
	var clTRID, extFile string
	cmd := &cobra.Command{
		Use:   "send <file|->",
		Short: "Send the command element read from a file",
		Long: "send reads the child element of <command>, e.g. <check>...</check>, from a file or standard input, " +
			"sends it and prints the response.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			raw := &codec.Raw{TrID: codec.TrID{ClTRID: clTRID}, Body: body}
			if extFile != "" {
				if raw.Extension, err = readInput(cmd.InOrStdin(), extFile); err != nil {
					return err
				}
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				resp, err := s.Send(ctx, raw)
				printResponse(cmd.OutOrStdout(), resp)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&clTRID, "cltrid", "", "client transaction id")
	cmd.Flags().StringVar(&extFile, "extension", "", "file holding the <extension> content")
	return cmd
}

func newSystemsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "systems",
		Short: "List the configured systems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s\t%s\n", config.DefaultSystem, cfg.TransportConfig().Address())
			systems := append([]config.System(nil), cfg.Systems...)
			sort.Slice(systems, func(i, j int) bool { return systems[i].Name < systems[j].Name })
			for _, sys := range systems {
				if sys.Name == config.DefaultSystem {
					continue
				}
				_, _ = fmt.Fprintf(out, "%s\t%s\n", sys.Name, sys.TransportConfig().Address())
			}
			return nil
		},
	}
}

func readInput(stdin io.Reader, name string) (string, error) {
	var (
		b   []byte
		err error
	)
	if name == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(name)
	}
	if err != nil {
		return "", epperr.Usage("cannot read "+name, epperr.WithCause(err))
	}
	return string(b), nil
}

func printResponse(w io.Writer, resp *codec.Response) {
	if resp == nil {
		return
	}
	for _, r := range resp.Results {
		_, _ = fmt.Fprintf(w, "result: %d %s\n", r.Code, r.Message)
		for _, reason := range r.Reasons {
			_, _ = fmt.Fprintf(w, "reason: %s\n", reason)
		}
	}
	if q := resp.MsgQ; q != nil {
		_, _ = fmt.Fprintf(w, "queue: %d message(s), id %s\n", q.Count, q.ID)
		if q.Message != "" {
			_, _ = fmt.Fprintf(w, "message: %s\n", q.Message)
		}
	}
	if resp.ResData != "" {
		_, _ = fmt.Fprintf(w, "resData: %s\n", resp.ResData)
	}
	_, _ = fmt.Fprintf(w, "trID: %s %s\n", resp.ClTRID, resp.SvTRID)
}
