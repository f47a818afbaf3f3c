package imap

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"tidemail/internal/models"
)

// ErrProtectedFolder is returned when a delete targets a folder carrying a
// special-use role.
var ErrProtectedFolder = errors.New("folder carries a special-use role")

// FolderDirectory extends the reconciliation store with the lookups and
// folder management the service needs. Implemented by db.FolderStore.
type FolderDirectory interface {
	FolderStore
	GetFolder(ctx context.Context, userID, folderID string) (*models.Folder, error)
	GetFolderByRole(ctx context.Context, userID, role string) (*models.Folder, error)
	DeleteFolder(ctx context.Context, userID, folderID string) error
}

// LabelDirectory is the slice of the persistence layer that serves label
// lookups. Implemented by db.LabelStore.
type LabelDirectory interface {
	ListLabels(ctx context.Context, userID string) ([]models.Label, error)
}

// Service bundles the broker with the folder/label stores and exposes the
// mailbox operations the API layer calls. Every operation opens its own
// session through the broker and finishes with it torn down; no protocol
// state survives between calls.
type Service struct {
	broker  *Broker
	folders FolderDirectory
	labels  LabelDirectory
}

// NewService creates a new mailbox service.
func NewService(broker *Broker, folders FolderDirectory, labels LabelDirectory) *Service {
	return &Service{broker: broker, folders: folders, labels: labels}
}

// Broker exposes the underlying connection broker for components that manage
// their own session lifecycle (the push notifier's watch session).
func (s *Service) Broker() *Broker {
	return s.broker
}

// VerifyLogin checks the credentials by opening and closing a session.
func (s *Service) VerifyLogin(creds models.Credentials) error {
	return s.broker.WithSession(creds, func(c *client.Client) error {
		return nil
	})
}

// SyncFolders reconciles the server's mailbox listing with the local folder
// set and returns the updated set.
func (s *Service) SyncFolders(ctx context.Context, creds models.Credentials, userID string) ([]models.Folder, error) {
	var folders []models.Folder

	err := s.broker.WithSession(creds, func(c *client.Client) error {
		mailboxes, err := ListMailboxes(c)
		if err != nil {
			return err
		}

		folders, err = Reconcile(ctx, s.folders, userID, mailboxes)
		return err
	})
	if err != nil {
		return nil, err
	}

	return folders, nil
}

// DeleteFolder removes a folder's mailbox from the server and drops its
// local record. Folders carrying a special-use role are refused; the role
// features would silently break without them.
func (s *Service) DeleteFolder(ctx context.Context, creds models.Credentials, userID, folderID string) error {
	folder, err := s.folders.GetFolder(ctx, userID, folderID)
	if err != nil {
		return err
	}
	if folder.Role != "" {
		return fmt.Errorf("cannot delete folder %q: %w", folder.Path, ErrProtectedFolder)
	}

	err = s.broker.WithSession(creds, func(c *client.Client) error {
		return c.Delete(folder.Path)
	})
	if err != nil {
		return fmt.Errorf("failed to delete mailbox %q: %w", folder.Path, err)
	}

	return s.folders.DeleteFolder(ctx, userID, folderID)
}

// labelSet loads the user's labels as a LabelSet.
func (s *Service) labelSet(ctx context.Context, userID string) (LabelSet, error) {
	labels, err := s.labels.ListLabels(ctx, userID)
	if err != nil {
		return LabelSet{}, err
	}
	return NewLabelSet(labels), nil
}

// ListConversations returns one folder's emails grouped into conversations.
func (s *Service) ListConversations(ctx context.Context, creds models.Credentials, userID, folderID string) ([]models.Conversation, error) {
	folder, err := s.folders.GetFolder(ctx, userID, folderID)
	if err != nil {
		return nil, err
	}

	labels, err := s.labelSet(ctx, userID)
	if err != nil {
		return nil, err
	}

	var conversations []models.Conversation
	err = s.broker.WithSession(creds, func(c *client.Client) error {
		emails, err := FetchFolderEmails(c, folder.ID, folder.Path, labels)
		if err != nil {
			return err
		}
		conversations = ThreadFolderEmails(c, emails)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return conversations, nil
}

// GetEmail returns one full message including body and attachments.
func (s *Service) GetEmail(ctx context.Context, creds models.Credentials, userID, folderID, messageID string) (*models.Email, error) {
	folder, err := s.folders.GetFolder(ctx, userID, folderID)
	if err != nil {
		return nil, err
	}

	labels, err := s.labelSet(ctx, userID)
	if err != nil {
		return nil, err
	}

	var email *models.Email
	err = s.broker.WithSession(creds, func(c *client.Client) error {
		if _, err := c.Select(folder.Path, false); err != nil {
			return fmt.Errorf("failed to select mailbox %q: %w", folder.Path, err)
		}

		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("Message-ID", messageID)
		uids, err := c.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("failed to locate message: %w", err)
		}
		if len(uids) == 0 {
			return fmt.Errorf("message %q not found in folder %q", messageID, folder.Path)
		}

		email, err = FetchFullEmail(c, folder.ID, uids[0], labels)
		return err
	})
	if err != nil {
		return nil, err
	}

	return email, nil
}

// EmailSet returns the user's full current email set across all tracked
// folders. Folders that fail to fetch are skipped with a warning so one bad
// mailbox cannot sink the whole read.
func (s *Service) EmailSet(ctx context.Context, creds models.Credentials, userID string) ([]models.Email, error) {
	folders, err := s.folders.ListFolders(ctx, userID)
	if err != nil {
		return nil, err
	}

	labels, err := s.labelSet(ctx, userID)
	if err != nil {
		return nil, err
	}

	var all []models.Email
	err = s.broker.WithSession(creds, func(c *client.Client) error {
		for _, folder := range folders {
			emails, err := FetchFolderEmails(c, folder.ID, folder.Path, labels)
			if err != nil {
				log.Printf("EmailSet: skipping folder %q for user %s: %v", folder.Path, userID, err)
				continue
			}
			all = append(all, emails...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if all == nil {
		all = []models.Email{}
	}
	return all, nil
}

// Move relocates all messages whose Message-ID is in ids to the target
// folder. Messages already in the target mailbox are left alone.
func (s *Service) Move(ctx context.Context, creds models.Credentials, userID string, ids []string, targetFolderID string) error {
	target, err := s.folders.GetFolder(ctx, userID, targetFolderID)
	if err != nil {
		return err
	}

	return s.broker.WithSession(creds, func(c *client.Client) error {
		resolved, err := ResolveIdentifiers(c, ids)
		if err != nil {
			return err
		}

		for path, uids := range resolved {
			if path == target.Path {
				continue
			}
			if _, err := c.Select(path, false); err != nil {
				log.Printf("Move: skipping mailbox %q for user %s: %v", path, userID, err)
				continue
			}
			if err := MoveMessages(c, uids, target.Path); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeletePermanently removes all messages whose Message-ID is in ids from
// every mailbox they appear in. There is no trash hop here; callers wanting
// one should Move to the trash folder instead.
func (s *Service) DeletePermanently(ctx context.Context, creds models.Credentials, userID string, ids []string) error {
	return s.broker.WithSession(creds, func(c *client.Client) error {
		resolved, err := ResolveIdentifiers(c, ids)
		if err != nil {
			return err
		}

		for path, uids := range resolved {
			if _, err := c.Select(path, false); err != nil {
				log.Printf("DeletePermanently: skipping mailbox %q for user %s: %v", path, userID, err)
				continue
			}
			if err := DeleteMessages(c, uids); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetLabelState adds or removes one label on all messages whose Message-ID
// is in ids. The reserved starred label toggles the \Flagged system flag.
func (s *Service) SetLabelState(ctx context.Context, creds models.Credentials, userID string, ids []string, labelID string, on bool) error {
	labels, err := s.labelSet(ctx, userID)
	if err != nil {
		return err
	}

	flag, err := labels.FlagForLabelID(labelID)
	if err != nil {
		return err
	}

	return s.forEachResolved(creds, userID, ids, "SetLabelState", func(c *client.Client, uids []uint32) error {
		if on {
			return AddFlags(c, uids, flag)
		}
		return RemoveFlags(c, uids, flag)
	})
}

// MarkRead sets or clears the \Seen flag on all messages whose Message-ID
// is in ids.
func (s *Service) MarkRead(ctx context.Context, creds models.Credentials, userID string, ids []string, read bool) error {
	return s.forEachResolved(creds, userID, ids, "MarkRead", func(c *client.Client, uids []uint32) error {
		if read {
			return AddFlags(c, uids, imap.SeenFlag)
		}
		return RemoveFlags(c, uids, imap.SeenFlag)
	})
}

// forEachResolved resolves ids and runs op against every mailbox that holds
// matches, inside a single session.
func (s *Service) forEachResolved(creds models.Credentials, userID string, ids []string, opName string, op func(c *client.Client, uids []uint32) error) error {
	return s.broker.WithSession(creds, func(c *client.Client) error {
		resolved, err := ResolveIdentifiers(c, ids)
		if err != nil {
			return err
		}

		for path, uids := range resolved {
			if _, err := c.Select(path, false); err != nil {
				log.Printf("%s: skipping mailbox %q for user %s: %v", opName, path, userID, err)
				continue
			}
			if err := op(c, uids); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendToRole appends a raw message to the folder carrying the given role
// and returns that folder. Missing role folders are the caller's problem to
// degrade on; the error wraps db.ErrFolderNotFound.
func (s *Service) AppendToRole(ctx context.Context, creds models.Credentials, userID, role string, flags []string, raw []byte) (*models.Folder, error) {
	folder, err := s.folders.GetFolderByRole(ctx, userID, role)
	if err != nil {
		return nil, fmt.Errorf("no folder with role %q: %w", role, err)
	}

	err = s.broker.WithSession(creds, func(c *client.Client) error {
		return AppendMessage(c, folder.Path, flags, raw)
	})
	if err != nil {
		return nil, err
	}

	return folder, nil
}

// SaveDraft stores a draft, replacing the previous version when oldDraftID
// is set, and returns the drafts folder it landed in.
func (s *Service) SaveDraft(ctx context.Context, creds models.Credentials, userID string, raw []byte, oldDraftID string) (*models.Folder, error) {
	folder, err := s.folders.GetFolderByRole(ctx, userID, models.RoleDrafts)
	if err != nil {
		return nil, fmt.Errorf("no drafts folder: %w", err)
	}

	err = s.broker.WithSession(creds, func(c *client.Client) error {
		if err := AppendMessage(c, folder.Path, []string{imap.DraftFlag, imap.SeenFlag}, raw); err != nil {
			return err
		}

		if oldDraftID != "" {
			if err := s.deleteByMessageID(c, folder.Path, oldDraftID); err != nil {
				log.Printf("SaveDraft: failed to delete previous draft %q for user %s: %v", oldDraftID, userID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return folder, nil
}

// DeleteDraft removes a draft by its Message-ID.
func (s *Service) DeleteDraft(ctx context.Context, creds models.Credentials, userID, draftID string) error {
	folder, err := s.folders.GetFolderByRole(ctx, userID, models.RoleDrafts)
	if err != nil {
		return fmt.Errorf("no drafts folder: %w", err)
	}

	return s.broker.WithSession(creds, func(c *client.Client) error {
		return s.deleteByMessageID(c, folder.Path, draftID)
	})
}

// deleteByMessageID deletes the messages matching one Message-ID from one
// mailbox.
func (s *Service) deleteByMessageID(c *client.Client, path, messageID string) error {
	uids, err := searchMessageIDs(c, path, []string{messageID})
	if err != nil {
		return err
	}
	return DeleteMessages(c, uids)
}
