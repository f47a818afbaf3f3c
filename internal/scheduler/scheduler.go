package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	imapclient "github.com/emersion/go-imap/client"

	"tidemail/internal/crypto"
	"tidemail/internal/imap"
	"tidemail/internal/models"
)

// JobStore is the persistence slice the scheduler drives. Implemented by
// db.ScheduledSendStore.
type JobStore interface {
	DueJobs(ctx context.Context, now time.Time) ([]models.ScheduledSend, error)
	MarkJobDispatched(ctx context.Context, jobID string) error
	DeleteJob(ctx context.Context, jobID string) error
}

// FolderStore resolves a job's destination folder. Implemented by
// db.FolderStore.
type FolderStore interface {
	GetFolder(ctx context.Context, userID, folderID string) (*models.Folder, error)
}

// Sender submits a raw message. Implemented by smtp.Sender.
type Sender interface {
	Send(creds models.Credentials, envelopeFrom string, recipients []string, raw []byte) error
}

// Scheduler polls for due scheduled sends and dispatches them. Jobs are
// processed strictly one at a time; a failed job is left in place and
// retried on a later tick.
type Scheduler struct {
	jobs     JobStore
	folders  FolderStore
	vault    *crypto.Vault
	sender   Sender
	broker   *imap.Broker
	interval time.Duration
}

// New creates a scheduler polling at the given interval.
func New(jobs JobStore, folders FolderStore, vault *crypto.Vault, sender Sender, broker *imap.Broker, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		jobs:     jobs,
		folders:  folders,
		vault:    vault,
		sender:   sender,
		broker:   broker,
		interval: interval,
	}
}

// Run polls until the context is canceled. It blocks; start it in its own
// goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx, time.Now())
		}
	}
}

// RunDue processes every job due at the given instant, sequentially and in
// due order. Exported so a tick can be driven directly.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) {
	jobs, err := s.jobs.DueJobs(ctx, now)
	if err != nil {
		log.Printf("scheduler: failed to load due jobs: %v", err)
		return
	}

	for _, job := range jobs {
		if err := s.dispatch(ctx, job); err != nil {
			log.Printf("scheduler: job %s for user %s failed, will retry: %v", job.ID, job.UserID, err)
		}
	}
}

// dispatch sends one job and relocates its scheduled copy.
//
// Ordering matters: the job is marked dispatched immediately after the
// submission succeeds, before any mailbox work. A crash or error after that
// point makes the retry skip the send and only repeat the relocation, so a
// message can never go out twice.
func (s *Scheduler) dispatch(ctx context.Context, job models.ScheduledSend) error {
	creds, err := crypto.DecryptCredentials(s.vault, job.EncryptedCredentials)
	if err != nil {
		if errors.Is(err, crypto.ErrCorruptCredential) {
			// Unrecoverable: the job can never send. Drop it rather than
			// retrying forever.
			log.Printf("scheduler: dropping job %s for user %s: %v", job.ID, job.UserID, err)
			return s.jobs.DeleteJob(ctx, job.ID)
		}
		return err
	}

	if !job.Dispatched {
		if err := s.sender.Send(creds, job.EnvelopeFrom, job.Recipients, job.RawMessage); err != nil {
			return err
		}
		if err := s.jobs.MarkJobDispatched(ctx, job.ID); err != nil {
			return err
		}
	}

	if err := s.relocate(ctx, job, creds); err != nil {
		// The message went out; the copy just isn't filed yet. Leave the
		// dispatched job for a relocation-only retry.
		return err
	}

	return s.jobs.DeleteJob(ctx, job.ID)
}

// relocate moves the job's stored copy from wherever it sits (the scheduled
// folder) to the job's destination folder, located by Message-ID. A job with
// no destination, or one whose destination folder is gone, degrades to
// leaving the copy in place.
func (s *Scheduler) relocate(ctx context.Context, job models.ScheduledSend, creds models.Credentials) error {
	if job.DestFolderID == "" {
		log.Printf("scheduler: job %s has no destination folder, leaving copy in place", job.ID)
		return nil
	}

	dest, err := s.folders.GetFolder(ctx, job.UserID, job.DestFolderID)
	if err != nil {
		log.Printf("scheduler: destination folder %q missing for job %s, leaving copy in place: %v", job.DestFolderID, job.ID, err)
		return nil
	}

	return s.broker.WithSession(creds, func(c *imapclient.Client) error {
		resolved, err := imap.ResolveIdentifiers(c, []string{job.MessageID})
		if err != nil {
			return err
		}
		if len(resolved) == 0 {
			log.Printf("scheduler: scheduled copy %s for job %s not found, nothing to relocate", job.MessageID, job.ID)
			return nil
		}

		for path, uids := range resolved {
			if path == dest.Path {
				continue
			}
			if _, err := c.Select(path, false); err != nil {
				return err
			}
			if err := imap.MoveMessages(c, uids, dest.Path); err != nil {
				return err
			}
		}
		return nil
	})
}
