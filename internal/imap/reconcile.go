package imap

import (
	"context"
	"fmt"
	"log"

	"tidemail/internal/models"
)

// FolderStore is the slice of the persistence layer reconciliation needs.
// Implemented by db.FolderStore.
type FolderStore interface {
	ListFolders(ctx context.Context, userID string) ([]models.Folder, error)
	CreateFolder(ctx context.Context, folder *models.Folder) error
	SetFolderRole(ctx context.Context, userID, folderID, role string) error
}

// expectedRoles are the special-use roles reconciliation tries to link.
// Absence of any of them is non-fatal; features depending on the role
// degrade silently.
var expectedRoles = []string{
	models.RoleInbox,
	models.RoleSent,
	models.RoleDrafts,
	models.RoleTrash,
	models.RoleSpam,
	models.RoleArchive,
	models.RoleScheduled,
}

// Reconcile maps the server's live mailbox listing onto the locally tracked
// folder set. Server mailboxes with no local counterpart are created locally
// (subscribed by default); mailboxes with a recognized role are linked to
// exactly one local record carrying that role, matched first by role then by
// name. Local records are never deleted. Running twice on an unchanged
// listing is a no-op.
func Reconcile(ctx context.Context, store FolderStore, userID string, mailboxes []MailboxEntry) ([]models.Folder, error) {
	existing, err := store.ListFolders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load local folders: %w", err)
	}

	folders := make([]*models.Folder, 0, len(existing)+len(mailboxes))
	byPath := make(map[string]*models.Folder, len(existing))
	byName := make(map[string]*models.Folder, len(existing))
	byRole := make(map[string]*models.Folder)
	for i := range existing {
		folder := existing[i]
		folders = append(folders, &folder)
		byPath[folder.Path] = &folder
		if byName[folder.Name] == nil {
			byName[folder.Name] = &folder
		}
		if folder.Role != "" {
			byRole[folder.Role] = &folder
		}
	}

	for _, mailbox := range mailboxes {
		local := byPath[mailbox.Path]

		// A role-carrying mailbox whose path has no local counterpart may
		// still be tracked under its name (the mailbox was moved or renamed
		// server-side). Link the same-named record instead of creating a
		// duplicate.
		if local == nil && mailbox.Role != "" {
			if match := byName[mailbox.Name]; match != nil {
				if match.Role == mailbox.Role {
					local = match
				} else if match.Role == "" && byRole[mailbox.Role] == nil {
					local = match
				}
			}
			if local != nil {
				byPath[mailbox.Path] = local
			}
		}

		if local == nil {
			folder := &models.Folder{
				UserID:     userID,
				Name:       mailbox.Name,
				Path:       mailbox.Path,
				Origin:     models.OriginServer,
				Subscribed: true,
			}

			// The role attaches to the new record only when no local folder
			// claims it yet.
			if mailbox.Role != "" && byRole[mailbox.Role] == nil {
				folder.Role = mailbox.Role
			}

			if parent := byPath[mailbox.ParentPath()]; parent != nil {
				parentID := parent.ID
				folder.ParentID = &parentID
			}

			if err := store.CreateFolder(ctx, folder); err != nil {
				return nil, fmt.Errorf("failed to create folder %q: %w", mailbox.Path, err)
			}

			folders = append(folders, folder)
			byPath[folder.Path] = folder
			if folder.Role != "" {
				byRole[folder.Role] = folder
			}
			continue
		}

		// Existing record: link the role if the server mailbox carries one
		// that no local folder claims yet.
		if mailbox.Role != "" && local.Role == "" && byRole[mailbox.Role] == nil {
			if err := store.SetFolderRole(ctx, userID, local.ID, mailbox.Role); err != nil {
				return nil, fmt.Errorf("failed to link role %q to folder %q: %w", mailbox.Role, local.Path, err)
			}
			local.Role = mailbox.Role
			byRole[mailbox.Role] = local
		}
	}

	for _, role := range expectedRoles {
		if byRole[role] == nil {
			log.Printf("Reconcile: no %q folder found for user %s; dependent features are disabled", role, userID)
		}
	}

	result := make([]models.Folder, len(folders))
	for i, folder := range folders {
		result[i] = *folder
	}

	return result, nil
}
