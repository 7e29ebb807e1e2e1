package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/document"
)

// readJSONObject reads a JSON object from path.
func readJSONObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read "+path, err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, WrapExitError(ExitCommandError, path+" is not a JSON object", err)
	}
	return obj, nil
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage credential schemas",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "put <iri> <schema.json>",
		Short: "Store a JSON schema under an IRI",
		Long: `Store a JSON schema under an IRI. Properties carrying
"isUpdatable": true may be changed by document version.

Example:
  anchor schema put '#site' site.schema.json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := readJSONObject(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				if err := a.store.PutSchema(ctx, args[0], schema); err != nil {
					return out.Fail("put schema", err)
				}
				if rootOpts.Format == "json" {
					return out.Success(map[string]string{"iri": args[0]})
				}
				return out.Success("stored " + args[0])
			})
		},
	})
	return cmd
}

// DocumentView is one version of a document.
type DocumentView struct {
	ID            string         `json:"id"`
	Hash          string         `json:"hash"`
	MessageID     string         `json:"message_id"`
	InitID        string         `json:"init_id,omitempty"`
	Relationships []string       `json:"relationships,omitempty"`
	OldVersion    bool           `json:"old_version"`
	Owner         string         `json:"owner"`
	PolicyID      string         `json:"policy_id,omitempty"`
	TopicID       string         `json:"topic_id"`
	SchemaIRI     string         `json:"schema,omitempty"`
	Tag           string         `json:"tag,omitempty"`
	Document      map[string]any `json:"document,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

func documentView(r document.Record) DocumentView {
	return DocumentView{
		ID:            r.ID,
		Hash:          r.Hash,
		MessageID:     r.MessageID,
		InitID:        r.InitID,
		Relationships: r.Relationships,
		OldVersion:    r.OldVersion,
		Owner:         r.Owner,
		PolicyID:      r.PolicyID,
		TopicID:       r.TopicID,
		SchemaIRI:     r.SchemaIRI,
		Tag:           r.Tag,
		Document:      r.Document,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (v DocumentView) RenderText(w io.Writer) error {
	state := "current"
	if v.OldVersion {
		state = "old"
	}
	_, err := fmt.Fprintf(w, "%s message=%s hash=%s %s\n", v.ID, v.MessageID, v.Hash, state)
	return err
}

// DocumentHistory lists a chain newest first.
type DocumentHistory []DocumentView

func (h DocumentHistory) RenderText(w io.Writer) error {
	for _, v := range h {
		if err := v.RenderText(w); err != nil {
			return err
		}
	}
	return nil
}

// NewDocumentCommand creates the document command group.
func NewDocumentCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "document",
		Short: "Issue and version credential documents",
	}
	cmd.AddCommand(newDocumentIssueCommand(rootOpts))
	cmd.AddCommand(newDocumentVersionCommand(rootOpts))
	cmd.AddCommand(newDocumentHistoryCommand(rootOpts))
	return cmd
}

func newDocumentIssueCommand(rootOpts *RootOptions) *cobra.Command {
	var req document.IssueRequest
	cmd := &cobra.Command{
		Use:   "issue <credential.json>",
		Short: "Sign and anchor the first version of a credential",
		Long: `Sign a credential with the owner's key and anchor it on the policy
instance topic. The owner needs a signing key (anchor key generate).

Example:
  anchor document issue site.json --owner did:example:alice --topic 0.0.7 --schema '#site'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := readJSONObject(args[0])
			if err != nil {
				return err
			}
			req.Credential = cred
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				rec, err := a.documents.Issue(ctx, req)
				if err != nil {
					return out.Fail("issue document", err)
				}
				return out.Success(documentView(rec))
			})
		},
	}
	cmd.Flags().StringVar(&req.Owner, "owner", "", "owner DID, also the signer (required)")
	cmd.Flags().StringVar(&req.TopicID, "topic", "", "policy instance topic (required)")
	cmd.Flags().StringVar(&req.PolicyID, "policy", "", "policy id")
	cmd.Flags().StringVar(&req.SchemaIRI, "schema", "", "schema IRI (required)")
	cmd.Flags().StringVar(&req.Tag, "tag", "", "policy block tag")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func newDocumentVersionCommand(rootOpts *RootOptions) *cobra.Command {
	var signer string
	cmd := &cobra.Command{
		Use:   "version <document-id> <partial.json>",
		Short: "Create a new version of a document",
		Long: `Create a new version from the updatable fields in partial.json. Fields the
schema does not mark updatable are ignored. The version is rejected when
the document is no longer the newest of its chain.

Example:
  anchor document version 6f1c... update.json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			partial, err := readJSONObject(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				rec, err := a.documents.NewVersion(ctx, document.VersionRequest{
					DocumentID: args[0],
					Partial:    partial,
					Signer:     signer,
				})
				if err != nil {
					return out.Fail("new version", err)
				}
				return out.Success(documentView(rec))
			})
		},
	}
	cmd.Flags().StringVar(&signer, "signer", "", "DID that re-signs the credential (default owner)")
	return cmd
}

func newDocumentHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "history <document-id>",
		Short:         "List every version in a document's chain",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, out *OutputFormatter) error {
				recs, err := a.documents.Versions(ctx, args[0])
				if err != nil {
					return out.Fail("history", err)
				}
				h := make(DocumentHistory, len(recs))
				for i, r := range recs {
					h[i] = documentView(r)
				}
				return out.Success(h)
			})
		},
	}
}
