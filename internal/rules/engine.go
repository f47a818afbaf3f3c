package rules

import (
	"fmt"
	"strings"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"tidemail/internal/imap"
	"tidemail/internal/models"
)

// Stored action kinds.
const (
	ActionMoveToFolder = "move_to_folder"
	ActionApplyLabel   = "apply_label"
	ActionStar         = "star"
	ActionMarkAsRead   = "mark_as_read"
)

// Action is the typed form of a rule's stored action. The set is closed:
// exactly the four types below implement it.
type Action interface {
	isAction()
}

// MoveToFolder relocates the message to the given folder.
type MoveToFolder struct {
	FolderID string
}

// ApplyLabel attaches a user label to the message.
type ApplyLabel struct {
	LabelID string
}

// Star marks the message starred.
type Star struct{}

// MarkAsRead marks the message read.
type MarkAsRead struct{}

func (MoveToFolder) isAction() {}
func (ApplyLabel) isAction()   {}
func (Star) isAction()         {}
func (MarkAsRead) isAction()   {}

// ParseAction turns a stored (kind, arg) pair into a typed action.
func ParseAction(kind, arg string) (Action, error) {
	switch kind {
	case ActionMoveToFolder:
		if arg == "" {
			return nil, fmt.Errorf("action %q requires a folder id", kind)
		}
		return MoveToFolder{FolderID: arg}, nil
	case ActionApplyLabel:
		if arg == "" {
			return nil, fmt.Errorf("action %q requires a label id", kind)
		}
		return ApplyLabel{LabelID: arg}, nil
	case ActionStar:
		return Star{}, nil
	case ActionMarkAsRead:
		return MarkAsRead{}, nil
	default:
		return nil, fmt.Errorf("unknown rule action %q", kind)
	}
}

// Outcome is the net effect of a rule pass over one email: the email as it
// should look afterwards, the flags to store on the server, and the folder
// the message moves to ("" for none). Evaluate computes it; Apply executes
// it. Both paths share this one value so preview and enforcement always
// agree.
type Outcome struct {
	Email               models.Email
	FlagsToAdd          []string
	DestinationFolderID string
}

// Engine evaluates an ordered rule list against emails. It carries the
// user's label set so label actions resolve to the right IMAP keywords.
type Engine struct {
	labels imap.LabelSet
}

// NewEngine creates an engine for one user's labels.
func NewEngine(labels []models.Label) *Engine {
	return &Engine{labels: imap.NewLabelSet(labels)}
}

// Evaluate runs the rules against one email in position order and returns
// the combined outcome without touching the server. Label and flag actions
// accumulate across all matching rules; for move actions the first matching
// rule wins and later moves are ignored.
func (e *Engine) Evaluate(email models.Email, ruleList []models.Rule) Outcome {
	outcome := Outcome{Email: email}

	for _, rule := range ruleList {
		if !Matches(email, rule) {
			continue
		}

		action, err := ParseAction(rule.Action, rule.ActionArg)
		if err != nil {
			// Unparsable stored rules are skipped rather than blocking the
			// rest of the list.
			continue
		}

		switch a := action.(type) {
		case MoveToFolder:
			if outcome.DestinationFolderID == "" {
				outcome.DestinationFolderID = a.FolderID
				outcome.Email.FolderID = a.FolderID
			}
		case ApplyLabel:
			flag, err := e.labels.FlagForLabelID(a.LabelID)
			if err != nil {
				continue
			}
			outcome.addLabel(a.LabelID, flag)
		case Star:
			outcome.addLabel(models.StarredLabelID, goimap.FlaggedFlag)
		case MarkAsRead:
			outcome.Email.IsRead = true
			outcome.addFlag(goimap.SeenFlag)
		}
	}

	return outcome
}

// Apply executes an outcome against the server for one message. The mailbox
// holding the message must already be selected; destPath is the mailbox path
// for the outcome's destination folder ("" when there is no move). The move
// happens last so the flag stores hit the message before it leaves the
// mailbox.
func Apply(c *client.Client, uid uint32, outcome Outcome, destPath string) error {
	if len(outcome.FlagsToAdd) > 0 {
		if err := imap.AddFlags(c, []uint32{uid}, outcome.FlagsToAdd...); err != nil {
			return fmt.Errorf("failed to store rule flags: %w", err)
		}
	}

	if outcome.DestinationFolderID != "" && destPath != "" {
		if err := imap.MoveMessages(c, []uint32{uid}, destPath); err != nil {
			return fmt.Errorf("failed to move message for rule: %w", err)
		}
	}

	return nil
}

// Matches reports whether one rule's condition holds for one email. Matching
// is a case-insensitive substring test on the rule's field; a recipient
// condition checks every To and CC address.
func Matches(email models.Email, rule models.Rule) bool {
	needle := strings.ToLower(rule.Value)
	if needle == "" {
		return false
	}

	switch rule.Field {
	case models.RuleFieldSender:
		return strings.Contains(strings.ToLower(email.FromAddress), needle)
	case models.RuleFieldRecipient:
		for _, addr := range email.ToAddresses {
			if strings.Contains(strings.ToLower(addr), needle) {
				return true
			}
		}
		for _, addr := range email.CCAddresses {
			if strings.Contains(strings.ToLower(addr), needle) {
				return true
			}
		}
		return false
	case models.RuleFieldSubject:
		return strings.Contains(strings.ToLower(email.Subject), needle)
	default:
		return false
	}
}

func (o *Outcome) addLabel(labelID, flag string) {
	for _, id := range o.Email.LabelIDs {
		if id == labelID {
			return
		}
	}
	o.Email.LabelIDs = append(o.Email.LabelIDs, labelID)
	o.addFlag(flag)
}

func (o *Outcome) addFlag(flag string) {
	for _, existing := range o.FlagsToAdd {
		if existing == flag {
			return
		}
	}
	o.FlagsToAdd = append(o.FlagsToAdd, flag)
}
