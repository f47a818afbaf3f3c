package rules

import (
	"log"

	"github.com/emersion/go-imap/client"

	"tidemail/internal/models"
)

// SweepMailbox runs the rule list over emails from the currently selected
// mailbox and applies every outcome. destPath resolves a destination folder
// id to its mailbox path; a resolution failure downgrades that outcome to
// its flag effects only. Returns the number of messages that had at least
// one effect applied.
//
// Moves expunge the affected message, but the remaining emails' UIDs stay
// valid, so the sweep proceeds through the original list.
func SweepMailbox(c *client.Client, engine *Engine, ruleList []models.Rule, emails []models.Email, destPath func(folderID string) (string, error)) (int, error) {
	applied := 0

	for _, email := range emails {
		outcome := engine.Evaluate(email, ruleList)
		if len(outcome.FlagsToAdd) == 0 && outcome.DestinationFolderID == "" {
			continue
		}

		path := ""
		if outcome.DestinationFolderID != "" {
			resolved, err := destPath(outcome.DestinationFolderID)
			if err != nil {
				log.Printf("rules: destination folder %q unavailable, keeping message %s in place: %v", outcome.DestinationFolderID, email.ID, err)
				outcome.DestinationFolderID = ""
			} else {
				path = resolved
			}
		}

		if err := Apply(c, email.UID, outcome, path); err != nil {
			return applied, err
		}
		applied++
	}

	return applied, nil
}
