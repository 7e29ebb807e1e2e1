package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/message"
	"github.com/roach88/anchor/internal/topic"
)

// MessageView is a message as the CLI prints it.
type MessageView struct {
	ID        string            `json:"id"`
	TopicID   string            `json:"topic_id"`
	Payer     string            `json:"payer"`
	Memo      string            `json:"memo,omitempty"`
	Type      message.Type      `json:"type"`
	Action    message.Action    `json:"action"`
	Message   json.RawMessage   `json:"message"`
	Documents []json.RawMessage `json:"documents,omitempty"`
}

func (v MessageView) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "%s %s/%s payer=%s\n", v.ID, v.Type, v.Action, v.Payer)
	if v.Memo != "" {
		fmt.Fprintf(w, "memo: %s\n", v.Memo)
	}
	fmt.Fprintf(w, "%s\n", v.Message)
	for i, d := range v.Documents {
		fmt.Fprintf(w, "document %d: %s\n", i, d)
	}
	return nil
}

// MessageList renders one line per message.
type MessageList []MessageView

func (l MessageList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No messages.")
		return err
	}
	for _, v := range l {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, v.Type, v.Action, v.Payer); err != nil {
			return err
		}
	}
	return nil
}

func newMessageView(m message.Message, withDocuments bool) (MessageView, error) {
	h := m.Header()
	v := MessageView{
		ID:      h.ID(),
		TopicID: h.TopicID(),
		Payer:   h.Payer(),
		Memo:    h.Memo(),
		Type:    h.Type,
		Action:  h.Action,
	}
	w, err := message.ToWire(m)
	if err != nil {
		return MessageView{}, err
	}
	v.Message = w.JSON
	if withDocuments {
		for _, b := range w.Blobs {
			if json.Valid(b) {
				v.Documents = append(v.Documents, b)
			}
		}
	}
	return v, nil
}

// NewTopicCommand creates the topic command group.
func NewTopicCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Create topics and publish or read messages",
	}
	cmd.AddCommand(newTopicCreateCommand(rootOpts))
	cmd.AddCommand(newTopicPublishCommand(rootOpts))
	cmd.AddCommand(newTopicGetCommand(rootOpts))
	cmd.AddCommand(newTopicScanCommand(rootOpts))
	return cmd
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app, out *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, formatter(cmd, opts))
}

func newTopicCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var memo string
	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Create a topic",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				id, err := a.topics.CreateTopic(ctx, memo)
				if err != nil {
					return out.Fail("create topic", err)
				}
				if rootOpts.Format == "json" {
					return out.Success(map[string]string{"topic_id": id})
				}
				return out.Success(id)
			})
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "topic memo")
	return cmd
}

func newTopicPublishCommand(rootOpts *RootOptions) *cobra.Command {
	var payer string
	cmd := &cobra.Command{
		Use:   "publish <topic-id> <message.json>",
		Short: "Publish a message read from a file",
		Long: `Publish a message given in its wire JSON form. The message is validated
before submission. Messages that carry documents are published by the
commands that own them (document issue, document version).

Examples:
  anchor topic publish 0.0.12 register.json --payer 0.0.600`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read message", err)
			}
			m, err := message.FromWire(data, nil, "")
			if err != nil {
				return formatter(cmd, rootOpts).Fail("decode message", err)
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				client := a.topics
				if payer != "" {
					client = client.WithPayer(payer)
				}
				ref, err := client.Publish(ctx, args[0], m)
				if err != nil {
					return out.Fail("publish", err)
				}
				if rootOpts.Format == "json" {
					return out.Success(map[string]string{"message_id": ref.ID, "topic_id": ref.TopicID})
				}
				return out.Success(ref.ID)
			})
		},
	}
	cmd.Flags().StringVar(&payer, "payer", "", "account paying for the message (default ledger.operator)")
	return cmd
}

func newTopicGetCommand(rootOpts *RootOptions) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:           "get <message-id>",
		Short:         "Print one message with its documents",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				m, err := a.topics.GetMessage(ctx, args[0], message.Type(typ))
				if err != nil {
					return out.Fail("get message", err)
				}
				v, err := newMessageView(m, true)
				if err != nil {
					return out.Fail("encode message", err)
				}
				return out.Success(v)
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "expected message type")
	return cmd
}

func newTopicScanCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		typ, action string
		after       int64
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "scan <topic-id>",
		Short: "List the messages of a topic in ledger order",
		Long: `List the messages of a topic in ledger order. Malformed records are
skipped and logged.

Examples:
  anchor topic scan 0.0.12 --type Synchronization-Event --action mint
  anchor topic scan 0.0.12 --after 100 --limit 20 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				filter := topic.Filter{Type: message.Type(typ), Action: message.Action(action)}
				list := make(MessageList, 0)
				for m, err := range a.topics.ScanFrom(ctx, args[0], after, filter) {
					if err != nil {
						return out.Fail("scan", err)
					}
					v, err := newMessageView(m, false)
					if err != nil {
						return out.Fail("encode message", err)
					}
					list = append(list, v)
					if limit > 0 && len(list) == limit {
						break
					}
				}
				return out.Success(list)
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "only messages of this type")
	cmd.Flags().StringVar(&action, "action", "", "only messages with this action")
	cmd.Flags().Int64Var(&after, "after", 0, "start after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many messages (0 = all)")
	return cmd
}
