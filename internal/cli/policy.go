package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/message"
	"github.com/roach88/anchor/internal/policy"
	"github.com/roach88/anchor/internal/store"
)

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Register policies and inspect policy-group transactions",
	}
	cmd.AddCommand(newPolicyRegisterCommand(rootOpts))
	cmd.AddCommand(newPolicyGroupCommand(rootOpts))
	cmd.AddCommand(newPolicyTransactionsCommand(rootOpts))
	return cmd
}

func newPolicyRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		p         policy.Policy
		published bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register or update a policy",
		Long: `Register or update a policy. A published policy with a synchronization
topic is picked up by the run scheduler on its next refresh.

Example:
  anchor policy register --id p1 --owner did:example:owner --owner-account 0.0.10 \
    --instance-topic 0.0.7 --sync-topic 0.0.8 --published`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Status = policy.StatusDraft
			if published {
				p.Status = policy.StatusPublished
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				if err := a.store.PutPolicy(ctx, p); err != nil {
					return out.Fail("register policy", err)
				}
				if rootOpts.Format == "json" {
					return out.Success(map[string]any{"policy_id": p.ID, "synchronized": p.Synchronized()})
				}
				return out.Success(fmt.Sprintf("registered %s (synchronized=%t)", p.ID, p.Synchronized()))
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "policy id (required)")
	cmd.Flags().StringVar(&p.Name, "name", "", "policy name")
	cmd.Flags().StringVar(&p.Owner, "owner", "", "owner DID")
	cmd.Flags().StringVar(&p.OwnerAccount, "owner-account", "", "ledger account of the owner")
	cmd.Flags().StringVar(&p.TopicID, "topic", "", "policy topic")
	cmd.Flags().StringVar(&p.InstanceTopicID, "instance-topic", "", "policy instance topic")
	cmd.Flags().StringVar(&p.SynchronizationTopicID, "sync-topic", "", "policy-group synchronization topic")
	cmd.Flags().BoolVar(&published, "published", false, "mark the policy published")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newPolicyGroupCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		g   policy.GroupConfig
		typ string
	)
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Bind a user of a policy instance to a policy group",
		Args:  cobra.NoArgs,
		Long: `Bind a user of a policy instance to a policy group. The membership is
registered on the synchronization topic, paid by the user's account. Mints
by that user on the instance are deferred to the group and complete during
synchronization.

Example:
  anchor policy group --instance-topic 0.0.7 --owner did:example:alice --user 0.0.600 \
    --policy-owner 0.0.10 --main-topic 0.0.7 --sync-topic 0.0.8 --type Main`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			g.Type = policy.GroupType(typ)
			if g.Type != policy.GroupMain && g.Type != policy.GroupSub {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid group type %q", typ))
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				reg := message.NewSynchronizationMessage(message.ActionCreateMultiPolicy)
				reg.Policy = g.InstanceTopicID
				reg.PolicyType = string(g.Type)
				reg.PolicyOwner = g.PolicyOwner
				reg.User = g.User
				ref, err := a.topics.WithPayer(g.User).Publish(ctx, g.SynchronizationTopicID, reg)
				if err != nil {
					return out.Fail("register group membership", err)
				}
				if err := a.store.PutGroupConfig(ctx, g); err != nil {
					return out.Fail("put group config", err)
				}
				if rootOpts.Format == "json" {
					return out.Success(map[string]string{
						"instance_topic_id": g.InstanceTopicID,
						"owner":             g.Owner,
						"message_id":        ref.ID,
					})
				}
				return out.Success(fmt.Sprintf("%s joins %s as %s (%s)", g.Owner, g.SynchronizationTopicID, g.Type, ref.ID))
			})
		},
	}
	cmd.Flags().StringVar(&g.InstanceTopicID, "instance-topic", "", "policy instance topic (required)")
	cmd.Flags().StringVar(&g.Owner, "owner", "", "user DID (required)")
	cmd.Flags().StringVar(&g.User, "user", "", "user ledger account, pays for the registration (required)")
	cmd.Flags().StringVar(&g.PolicyOwner, "policy-owner", "", "ledger account of the policy owner (required)")
	cmd.Flags().StringVar(&g.MainPolicyTopicID, "main-topic", "", "instance topic of the Main policy")
	cmd.Flags().StringVar(&g.SynchronizationTopicID, "sync-topic", "", "synchronization topic (required)")
	cmd.Flags().StringVar(&typ, "type", string(policy.GroupMain), "Main|Sub")
	_ = cmd.MarkFlagRequired("instance-topic")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("policy-owner")
	_ = cmd.MarkFlagRequired("sync-topic")
	return cmd
}

// TransactionView is a policy-group transaction as the CLI prints it.
type TransactionView struct {
	ID            string   `json:"id"`
	PolicyID      string   `json:"policy_id"`
	User          string   `json:"user"`
	TokenID       string   `json:"token_id"`
	Amount        int64    `json:"amount"`
	Target        string   `json:"target"`
	Status        string   `json:"status"`
	Contributions []string `json:"contributions,omitempty"`
	Error         string   `json:"error,omitempty"`
	CreatedAt     string   `json:"created_at"`
	Age           string   `json:"age"`
}

func transactionView(tx policy.Transaction, now time.Time) TransactionView {
	return TransactionView{
		ID:            tx.ID,
		PolicyID:      tx.PolicyID,
		User:          tx.User,
		TokenID:       tx.TokenID,
		Amount:        tx.Amount,
		Target:        tx.Target,
		Status:        string(tx.Status),
		Contributions: tx.Contributions,
		Error:         tx.Error,
		CreatedAt:     tx.CreatedAt.UTC().Format(time.RFC3339),
		Age:           now.Sub(tx.CreatedAt).Truncate(time.Second).String(),
	}
}

// TransactionList renders one line per transaction.
type TransactionList []TransactionView

func (l TransactionList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No transactions.")
		return err
	}
	for _, v := range l {
		line := []string{v.ID, v.PolicyID, v.User, v.Status, fmt.Sprintf("%d %s -> %s", v.Amount, v.TokenID, v.Target), "age " + v.Age}
		if v.Error != "" {
			line = append(line, v.Error)
		}
		if _, err := fmt.Fprintln(w, strings.Join(line, "\t")); err != nil {
			return err
		}
	}
	return nil
}

func newPolicyTransactionsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		policyID, user, status string
		all                    bool
	)
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"pending"},
		Short:   "List policy-group transactions",
		Long: `List policy-group transactions, oldest first. By default only pending
transactions are shown. Pending transactions never expire; one that has
waited long usually means a group member never contributed.

Examples:
  anchor policy transactions --policy p1
  anchor policy transactions --status Failed --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.TransactionFilter{PolicyID: policyID, User: user}
			if !all {
				f.Status = policy.TransactionStatus(status)
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				txs, err := a.store.ListTransactions(ctx, f)
				if err != nil {
					return out.Fail("list transactions", err)
				}
				now := time.Now()
				list := make(TransactionList, len(txs))
				for i, tx := range txs {
					list[i] = transactionView(tx, now)
				}
				return out.Success(list)
			})
		},
	}
	cmd.Flags().StringVar(&policyID, "policy", "", "only this policy")
	cmd.Flags().StringVar(&user, "user", "", "only this user account")
	cmd.Flags().StringVar(&status, "status", string(policy.TxPending), "Pending|Completed|Failed")
	cmd.Flags().BoolVar(&all, "all", false, "every status")
	return cmd
}
