package cli

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/keys"
	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/message"
	"github.com/roach88/anchor/internal/mint"
	"github.com/roach88/anchor/internal/store"
)

// NewTokenCommand creates the token command group.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage tokens on the local ledger",
	}
	cmd.AddCommand(newTokenCreateCommand(rootOpts))
	cmd.AddCommand(newTokenBalanceCommand(rootOpts))
	return cmd
}

func newTokenCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var tok ledger.Token
	var typ string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a token and put its keys into custody",
		Long: `Create a token. Fresh supply, treasury and wipe keys are generated and
stored in key custody under the token owner's DID.

Example:
  anchor token create --name Carbon --symbol CO2 --type fungible --decimals 2 \
    --treasury 0.0.2 --owner did:example:issuer`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok.Type = ledger.TokenType(typ)
			if tok.Type != ledger.Fungible && tok.Type != ledger.NonFungible {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid token type %q", typ))
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				id, err := createToken(ctx, a.store, tok)
				if err != nil {
					return out.Fail("create token", err)
				}
				tok.ID = id
				return out.Success(tokenView(tok))
			})
		},
	}
	cmd.Flags().StringVar(&tok.ID, "id", "", "token id (allocated when empty)")
	cmd.Flags().StringVar(&tok.Name, "name", "", "token name")
	cmd.Flags().StringVar(&tok.Symbol, "symbol", "", "token symbol")
	cmd.Flags().StringVar(&typ, "type", string(ledger.Fungible), "fungible|non-fungible")
	cmd.Flags().IntVar(&tok.Decimals, "decimals", 0, "decimal places of a fungible token")
	cmd.Flags().StringVar(&tok.Treasury, "treasury", "", "treasury account (required)")
	cmd.Flags().StringVar(&tok.Owner, "owner", "", "owner DID (required)")
	_ = cmd.MarkFlagRequired("treasury")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func createToken(ctx context.Context, st *store.Store, tok ledger.Token) (string, error) {
	tk := store.TokenKeys{Supply: randomKey(), Treasury: randomKey(), Wipe: randomKey()}
	id, err := st.CreateToken(ctx, tok, tk)
	if err != nil {
		return "", err
	}
	for purpose, key := range map[keys.Purpose][]byte{
		keys.PurposeSupply:   tk.Supply,
		keys.PurposeTreasury: tk.Treasury,
		keys.PurposeWipe:     tk.Wipe,
	} {
		if err := st.PutKey(ctx, tok.Owner, purpose, id, key); err != nil {
			return "", err
		}
	}
	return id, nil
}

func randomKey() []byte {
	k := make([]byte, 32)
	_, _ = rand.Read(k)
	return k
}

// TokenView is a token as the CLI prints it.
type TokenView struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Type     string `json:"type"`
	Decimals int    `json:"decimals"`
	Treasury string `json:"treasury"`
	Owner    string `json:"owner"`
}

func tokenView(t ledger.Token) TokenView {
	return TokenView{
		ID:       t.ID,
		Name:     t.Name,
		Symbol:   t.Symbol,
		Type:     string(t.Type),
		Decimals: t.Decimals,
		Treasury: t.Treasury,
		Owner:    t.Owner,
	}
}

func (v TokenView) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s %s (%s) type=%s decimals=%d treasury=%s owner=%s\n",
		v.ID, v.Name, v.Symbol, v.Type, v.Decimals, v.Treasury, v.Owner)
	return err
}

func newTokenBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "balance <token-id> <account>",
		Short:         "Print an account balance",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				bal, err := a.store.Balance(ctx, args[0], args[1])
				if err != nil {
					return out.Fail("balance", err)
				}
				if rootOpts.Format == "json" {
					return out.Success(map[string]any{"token_id": args[0], "account": args[1], "balance": bal})
				}
				return out.Success(bal)
			})
		},
	}
}

// NewKeyCommand creates the key command group.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage signing keys in custody",
	}
	var owner string
	gen := &cobra.Command{
		Use:           "generate",
		Short:         "Generate an Ed25519 signing key for a DID",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed := randomKey()
			pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				if err := a.store.PutKey(ctx, owner, keys.PurposeSigning, "", seed); err != nil {
					return out.Fail("store key", err)
				}
				encoded := base58.Encode(pub)
				if rootOpts.Format == "json" {
					return out.Success(map[string]string{"owner": owner, "public_key": encoded})
				}
				return out.Success(encoded)
			})
		},
	}
	gen.Flags().StringVar(&owner, "owner", "", "owner DID (required)")
	_ = gen.MarkFlagRequired("owner")
	cmd.AddCommand(gen)
	return cmd
}

// MintOptions holds flags for the mint command.
type MintOptions struct {
	*RootOptions
	Request mint.Request
	VP      string
	Rule    string
	Expr    string
	Async   bool
}

// NewMintCommand creates the mint command.
func NewMintCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MintOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint tokens and anchor their provenance",
		Long: `Mint tokens to a target account. The amount is either given with
--amount or aggregated with --rule/--expr over the credentials of the VP
message named by --vp. Non-fungible tokens are minted in chunks of
mint.batch_size; chunks that fail are reported and the rest continue.

When the policy instance belongs to a policy group, the mint is handed to
the group and completes during synchronization.

Examples:
  anchor mint --token 0.0.3 --amount 100 --target 0.0.500 --topic 0.0.7
  anchor mint --token 0.0.4 --vp 0.0.7-12 --rule sum --expr '$.area' \
    --target 0.0.500 --topic 0.0.7 --owner did:example:alice`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMint(opts, cmd)
		},
	}
	r := &opts.Request
	cmd.Flags().StringVar(&r.TokenID, "token", "", "token id (required)")
	cmd.Flags().Int64Var(&r.Amount, "amount", 0, "amount in smallest units")
	cmd.Flags().StringVar(&r.Target, "target", "", "receiving account (required)")
	cmd.Flags().StringVar(&r.Owner, "owner", "", "DID of the document owner")
	cmd.Flags().StringVar(&r.InstanceTopicID, "topic", "", "policy instance topic receiving provenance (required)")
	cmd.Flags().StringVar(&r.PolicyID, "policy", "", "policy id")
	cmd.Flags().StringVar(&r.Memo, "memo", "", "transaction memo")
	cmd.Flags().StringVar(&opts.VP, "vp", "", "VP message whose credentials back the mint")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "aggregation rule: sum|mode|min|max")
	cmd.Flags().StringVar(&opts.Expr, "expr", "", "expression evaluated per credential subject")
	cmd.Flags().BoolVar(&opts.Async, "async", false, "run the mint on the background worker and report the stored request")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runMint(opts *MintOptions, cmd *cobra.Command) error {
	if (opts.Rule == "") != (opts.Expr == "") {
		return NewExitError(ExitCommandError, "--rule and --expr must be given together")
	}
	if opts.Rule != "" && opts.VP == "" {
		return NewExitError(ExitCommandError, "--rule needs --vp")
	}
	req := opts.Request
	if opts.Rule != "" {
		req.Rule = &mint.Rule{Kind: mint.RuleKind(opts.Rule), Expr: opts.Expr}
	}

	return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, out *OutputFormatter) error {
		if opts.VP != "" {
			m, err := a.topics.GetMessage(ctx, opts.VP, message.TypeVPDocument)
			if err != nil {
				return out.Fail("load VP", err)
			}
			vp := m.(*message.VPMessage)
			req.MessageID = vp.ID()
			req.Relationships = vp.Relationships
			req.Documents = credentials(vp.Document)
			if req.Owner == "" {
				req.Owner = vp.Issuer
			}
		}

		if opts.Async {
			id, err := a.mint.Mint(ctx, req)
			if err != nil {
				return out.Fail("mint", err)
			}
			out.VerboseLog("waiting for mint %s", id)
			a.mint.Wait()
			rec, err := a.mint.Request(ctx, id)
			if err != nil {
				return out.Fail("mint", err)
			}
			return out.Success(requestView(rec))
		}

		res, err := a.mint.Execute(ctx, req)
		if err != nil {
			return out.Fail("mint", err)
		}
		return out.Success(resultView(res))
	})
}

// credentials returns the verifiable credentials embedded in a VP.
func credentials(vp map[string]any) []map[string]any {
	var out []map[string]any
	switch v := vp["verifiableCredential"].(type) {
	case []any:
		for _, c := range v {
			if m, ok := c.(map[string]any); ok {
				out = append(out, m)
			}
		}
	case map[string]any:
		out = append(out, v)
	}
	return out
}

// ResultView is a mint result as the CLI prints it.
type ResultView struct {
	RequestID    string  `json:"request_id"`
	Requested    int64   `json:"requested"`
	Minted       int64   `json:"minted"`
	Transferred  int64   `json:"transferred"`
	Short        int64   `json:"short"`
	Serials      []int64 `json:"serials,omitempty"`
	Failures     int     `json:"failures"`
	ProvenanceID string  `json:"provenance_id,omitempty"`
	Deferred     bool    `json:"deferred,omitempty"`
}

func resultView(r mint.Result) ResultView {
	return ResultView{
		RequestID:    r.RequestID,
		Requested:    r.Requested,
		Minted:       r.Minted,
		Transferred:  r.Transferred,
		Short:        r.Short(),
		Serials:      r.Serials,
		Failures:     r.Failures,
		ProvenanceID: r.ProvenanceID,
		Deferred:     r.Deferred,
	}
}

func (v ResultView) RenderText(w io.Writer) error {
	if v.Deferred {
		_, err := fmt.Fprintf(w, "request %s deferred to policy group\n", v.RequestID)
		return err
	}
	fmt.Fprintf(w, "request %s: minted %d of %d, transferred %d\n", v.RequestID, v.Minted, v.Requested, v.Transferred)
	if v.Short > 0 {
		fmt.Fprintf(w, "warning: %d units not minted (%d failed chunks)\n", v.Short, v.Failures)
	}
	if len(v.Serials) > 0 {
		serials := make([]string, len(v.Serials))
		for i, s := range v.Serials {
			serials[i] = fmt.Sprint(s)
		}
		fmt.Fprintf(w, "serials: %s\n", strings.Join(serials, ","))
	}
	_, err := fmt.Fprintf(w, "provenance: %s\n", v.ProvenanceID)
	return err
}

// NewWipeCommand creates the wipe command.
func NewWipeCommand(rootOpts *RootOptions) *cobra.Command {
	var req mint.WipeRequest
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Wipe tokens from an account",
		Long: `Wipe units of a token from an account with the token owner's wipe key.
The wipe is one ledger call; transient ledger errors are retried. With
--topic a wipe provenance record linking --provenance is anchored there.

Examples:
  anchor wipe --token 0.0.3 --account 0.0.500 --amount 25
  anchor wipe --token 0.0.3 --account 0.0.500 --amount 25 --provenance 0.0.7-12 --topic 0.0.7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				rec, err := a.mint.Wipe(ctx, req)
				if err != nil {
					return out.Fail("wipe", err)
				}
				if rootOpts.Format == "json" {
					return out.Success(map[string]any{
						"request_id":    rec.ID,
						"token_id":      req.TokenID,
						"account":       req.Account,
						"wiped":         req.Amount,
						"provenance_id": rec.ProvenanceID,
					})
				}
				line := fmt.Sprintf("wiped %d of %s from %s", req.Amount, req.TokenID, req.Account)
				if rec.ProvenanceID != "" {
					line += "\nprovenance: " + rec.ProvenanceID
				}
				return out.Success(line)
			})
		},
	}
	cmd.Flags().StringVar(&req.TokenID, "token", "", "token id (required)")
	cmd.Flags().StringVar(&req.Account, "account", "", "account to wipe from (required)")
	cmd.Flags().Int64Var(&req.Amount, "amount", 0, "amount in smallest units (required)")
	cmd.Flags().StringVar(&req.Memo, "memo", "", "transaction memo (default --provenance)")
	cmd.Flags().StringVar(&req.ProvenanceID, "provenance", "", "message that justifies the wipe")
	cmd.Flags().StringVar(&req.InstanceTopicID, "topic", "", "policy instance topic receiving the wipe provenance record")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// RequestView is persisted mint or wipe progress.
type RequestView struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	TokenID      string `json:"token_id"`
	Target       string `json:"target"`
	State        string `json:"state"`
	Requested    int64  `json:"requested"`
	Minted       int64  `json:"minted"`
	Transferred  int64  `json:"transferred"`
	Failures     int    `json:"failures"`
	ProvenanceID string `json:"provenance_id,omitempty"`
	Error        string `json:"error,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

func requestView(r mint.RequestRecord) RequestView {
	return RequestView{
		ID:           r.ID,
		Kind:         string(r.Kind),
		TokenID:      r.TokenID,
		Target:       r.Target,
		State:        string(r.State),
		Requested:    r.Requested,
		Minted:       r.Minted,
		Transferred:  r.Transferred,
		Failures:     r.Failures,
		ProvenanceID: r.ProvenanceID,
		Error:        r.Error,
		UpdatedAt:    r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (v RequestView) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "%s %s %s -> %s: %s (minted %d of %d, transferred %d)\n",
		v.ID, v.Kind, v.TokenID, v.Target, v.State, v.Minted, v.Requested, v.Transferred)
	if v.Error != "" {
		fmt.Fprintf(w, "error: %s\n", v.Error)
	}
	return nil
}

// NewRequestCommand creates the request command.
func NewRequestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "request <request-id>",
		Short:         "Show the progress of a mint or wipe request",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				rec, err := a.mint.Request(ctx, args[0])
				if err != nil {
					return out.Fail("request", err)
				}
				return out.Success(requestView(rec))
			})
		},
	}
}
