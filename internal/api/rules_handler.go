package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	imapclient "github.com/emersion/go-imap/client"

	"tidemail/internal/db"
	"tidemail/internal/imap"
	"tidemail/internal/models"
	"tidemail/internal/rules"
)

// RuleStore is the persistence slice behind the rule endpoints. Implemented
// by db.RuleStore.
type RuleStore interface {
	ListRules(ctx context.Context, userID string) ([]models.Rule, error)
	CreateRule(ctx context.Context, rule *models.Rule) error
	DeleteRule(ctx context.Context, userID, ruleID string) error
}

// FolderStore resolves folders for rule validation and the backlog
// sweep. Implemented by db.FolderStore.
type FolderStore interface {
	GetFolder(ctx context.Context, userID, folderID string) (*models.Folder, error)
	GetFolderByRole(ctx context.Context, userID, role string) (*models.Folder, error)
}

// RulesHandler serves rule CRUD and the on-demand backlog sweep. Rules
// otherwise run only inside the push notifier as messages arrive; the sweep
// is how a new or edited rule gets applied to mail already sitting in the
// inbox.
type RulesHandler struct {
	rules    RuleStore
	labels   LabelStore
	folders  FolderStore
	mail     *imap.Service
	identity *IdentityResolver
}

// NewRulesHandler creates a new RulesHandler instance.
func NewRulesHandler(ruleStore RuleStore, labels LabelStore, folders FolderStore, mail *imap.Service, identity *IdentityResolver) *RulesHandler {
	return &RulesHandler{rules: ruleStore, labels: labels, folders: folders, mail: mail, identity: identity}
}

// GetRules returns the user's rules in evaluation order.
func (h *RulesHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	ruleList, err := h.rules.ListRules(r.Context(), sess.UserEmail)
	if err != nil {
		log.Printf("RulesHandler: Failed to list rules for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to list rules", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, ruleList)
}

type createRuleRequest struct {
	Field     string `json:"field"`
	Value     string `json:"value"`
	Action    string `json:"action"`
	ActionArg string `json:"action_arg"`
}

// CreateRule validates and appends one rule at the end of the user's list.
func (h *RulesHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	var req createRuleRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}

	if err := h.validateRule(r.Context(), sess.UserEmail, req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rule := &models.Rule{
		UserID:    sess.UserEmail,
		Field:     req.Field,
		Value:     req.Value,
		Action:    req.Action,
		ActionArg: req.ActionArg,
	}
	if err := h.rules.CreateRule(r.Context(), rule); err != nil {
		log.Printf("RulesHandler: Failed to create rule for %s: %v", sess.UserEmail, err)
		http.Error(w, "Failed to create rule", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	WriteJSONResponse(w, rule)
}

// validateRule rejects rules that could never run: unknown fields, empty
// conditions, unparsable actions, and move or label targets that do not
// exist.
func (h *RulesHandler) validateRule(ctx context.Context, userID string, req createRuleRequest) error {
	switch req.Field {
	case models.RuleFieldSender, models.RuleFieldRecipient, models.RuleFieldSubject:
	default:
		return errors.New("unknown condition field")
	}
	if strings.TrimSpace(req.Value) == "" {
		return errors.New("condition value is required")
	}

	action, err := rules.ParseAction(req.Action, req.ActionArg)
	if err != nil {
		return err
	}

	switch a := action.(type) {
	case rules.MoveToFolder:
		if _, err := h.folders.GetFolder(ctx, userID, a.FolderID); err != nil {
			return errors.New("move target folder does not exist")
		}
	case rules.ApplyLabel:
		if _, err := h.labels.GetLabel(ctx, userID, a.LabelID); err != nil {
			return errors.New("label does not exist")
		}
	}

	return nil
}

// DeleteRule deletes the rule named by the trailing path segment.
func (h *RulesHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}

	ruleID := strings.TrimPrefix(r.URL.Path, "/api/v1/rules/")
	if ruleID == "" || ruleID == r.URL.Path {
		http.Error(w, "Rule id is required", http.StatusBadRequest)
		return
	}

	if err := h.rules.DeleteRule(r.Context(), sess.UserEmail, ruleID); err != nil {
		if errors.Is(err, db.ErrRuleNotFound) {
			http.Error(w, "Rule not found", http.StatusNotFound)
			return
		}
		log.Printf("RulesHandler: Failed to delete rule %s for %s: %v", ruleID, sess.UserEmail, err)
		http.Error(w, "Failed to delete rule", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type runRulesResponse struct {
	Applied       int                   `json:"applied"`
	Conversations []models.Conversation `json:"conversations"`
}

// RunRules sweeps the current rule list over everything in the inbox and
// returns the inbox's refreshed conversations along with how many messages
// were touched.
func (h *RulesHandler) RunRules(w http.ResponseWriter, r *http.Request) {
	sess, creds, ok := h.identity.Resolve(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	userID := sess.UserEmail

	inbox, err := h.folders.GetFolderByRole(ctx, userID, models.RoleInbox)
	if err != nil {
		log.Printf("RulesHandler: No inbox folder for %s: %v", userID, err)
		http.Error(w, "No inbox folder", http.StatusConflict)
		return
	}

	ruleList, err := h.rules.ListRules(ctx, userID)
	if err != nil {
		log.Printf("RulesHandler: Failed to list rules for %s: %v", userID, err)
		http.Error(w, "Failed to list rules", http.StatusInternalServerError)
		return
	}
	labels, err := h.labels.ListLabels(ctx, userID)
	if err != nil {
		log.Printf("RulesHandler: Failed to list labels for %s: %v", userID, err)
		http.Error(w, "Failed to list labels", http.StatusInternalServerError)
		return
	}

	engine := rules.NewEngine(labels)
	labelSet := imap.NewLabelSet(labels)

	applied := 0
	err = h.mail.Broker().WithSession(creds, func(c *imapclient.Client) error {
		emails, err := imap.FetchFolderEmails(c, inbox.ID, inbox.Path, labelSet)
		if err != nil {
			return err
		}

		applied, err = rules.SweepMailbox(c, engine, ruleList, emails, func(folderID string) (string, error) {
			folder, err := h.folders.GetFolder(ctx, userID, folderID)
			if err != nil {
				return "", err
			}
			return folder.Path, nil
		})
		return err
	})
	if err != nil {
		log.Printf("RulesHandler: Backlog sweep failed for %s: %v", userID, err)
		http.Error(w, "Failed to run rules", http.StatusInternalServerError)
		return
	}

	conversations, err := h.mail.ListConversations(ctx, creds, userID, inbox.ID)
	if err != nil {
		log.Printf("RulesHandler: Sweep succeeded but refresh failed for %s: %v", userID, err)
		http.Error(w, "Failed to refresh inbox", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, runRulesResponse{Applied: applied, Conversations: conversations})
}
