// Package document holds the document use cases. Reads go through the access
// engine; only metadata and a storage locator are kept here.
package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
	"github.com/santetogo/records-api/internal/service/access"
	"github.com/santetogo/records-api/pkg/auth"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

// Engine is the part of the access engine documents depend on.
type Engine interface {
	CanView(ctx context.Context, userID, subjectID uuid.UUID) bool
	ListActiveGrantsFor(ctx context.Context, subjectID uuid.UUID) ([]*model.AccessGrant, error)
	ListPermittedFor(ctx context.Context, userID uuid.UUID) ([]*model.AccessGrant, error)
}

var _ Engine = (*access.Service)(nil)

type Service struct {
	store   repository.Store
	engine  Engine
	auditor access.Auditor
	now     func() time.Time
}

func NewService(store repository.Store, engine Engine, auditor access.Auditor) *Service {
	return &Service{
		store:   store,
		engine:  engine,
		auditor: auditor,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upload stores the metadata of a new document. The owner defaults to the
// uploader and documents are private unless stated otherwise.
func (s *Service) Upload(ctx context.Context, actor auth.Actor, req *model.CreateDocumentRequest) (*model.Document, error) {
	docType, err := model.ParseDocumentType(req.Type)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}

	ownerID := actor.UserID
	if req.OwnerID != nil {
		if ownerID, err = s.existingUser(ctx, *req.OwnerID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	doc := &model.Document{
		Base:       model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Name:       req.Name,
		Type:       docType,
		FileFormat: req.FileFormat,
		FileSize:   req.FileSize,
		StorageKey: req.StorageKey,
		UploaderID: actor.UserID,
		OwnerID:    ownerID,
		IsPrivate:  true,
	}
	if req.IsPrivate != nil {
		doc.IsPrivate = *req.IsPrivate
	}

	if err := s.store.Documents().Create(ctx, doc); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to create document: %w", err))
	}
	s.audit(ctx, actor.UserID, model.AuditActionCreate, doc.ID, nil, doc)
	return doc, nil
}

// Get returns the document when the caller can view it.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.Document, error) {
	doc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.engine.CanView(ctx, actor.UserID, doc.ID) {
		return nil, apperrors.NewForbidden("not allowed to view this document")
	}
	return doc, nil
}

// Update edits metadata. Owner and uploader may edit; only the owner may
// hand the document to someone else.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, req *model.UpdateDocumentRequest) (*model.Document, error) {
	doc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.IsOwnerOrUploader(actor.UserID) {
		return nil, apperrors.NewForbidden("only the owner or uploader can edit this document")
	}

	before := *doc
	if req.Name != nil {
		doc.Name = *req.Name
	}
	if req.Type != nil {
		t, err := model.ParseDocumentType(*req.Type)
		if err != nil {
			return nil, apperrors.BadRequest(err.Error(), err)
		}
		doc.Type = t
	}
	if req.IsPrivate != nil {
		doc.IsPrivate = *req.IsPrivate
	}
	if req.OwnerID != nil {
		if doc.OwnerID != actor.UserID {
			return nil, apperrors.NewForbidden("only the owner can transfer this document")
		}
		if doc.OwnerID, err = s.existingUser(ctx, *req.OwnerID); err != nil {
			return nil, err
		}
	}
	doc.UpdatedAt = s.now()

	ok, err := s.store.Documents().Update(ctx, doc)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to update document: %w", err))
	}
	if !ok {
		return nil, apperrors.NotFound("document", repository.ErrNotFound)
	}
	s.audit(ctx, actor.UserID, model.AuditActionUpdate, doc.ID, &before, doc)
	return doc, nil
}

// Delete removes the document and every grant on it. Only the owner may
// delete.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	doc, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if doc.OwnerID != actor.UserID {
		return apperrors.NewForbidden("only the owner can delete this document")
	}
	ok, err := s.store.Documents().Delete(ctx, id)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("failed to delete document: %w", err))
	}
	if !ok {
		return apperrors.NotFound("document", repository.ErrNotFound)
	}
	s.audit(ctx, actor.UserID, model.AuditActionDelete, id, doc, nil)
	return nil
}

func (s *Service) ListOwned(ctx context.Context, actor auth.Actor) ([]*model.Document, error) {
	docs, err := s.store.Documents().ListByOwner(ctx, actor.UserID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return docs, nil
}

func (s *Service) ListUploaded(ctx context.Context, actor auth.Actor) ([]*model.Document, error) {
	docs, err := s.store.Documents().ListByUploader(ctx, actor.UserID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return docs, nil
}

// ListShared returns the documents the caller reads through an approved,
// unexpired grant.
func (s *Service) ListShared(ctx context.Context, actor auth.Actor) ([]*model.Document, error) {
	grants, err := s.engine.ListPermittedFor(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(grants))
	docs := make([]*model.Document, 0, len(grants))
	for _, g := range grants {
		if g.SubjectType != model.SubjectTypeDocument || seen[g.SubjectID] {
			continue
		}
		seen[g.SubjectID] = true
		doc, err := s.store.Documents().Get(ctx, g.SubjectID)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ActiveGrants lists who currently holds access. Owner and uploader only.
func (s *Service) ActiveGrants(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]*model.AccessGrant, error) {
	doc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.IsOwnerOrUploader(actor.UserID) {
		return nil, apperrors.NewForbidden("only the owner or uploader can list grants")
	}
	return s.engine.ListActiveGrantsFor(ctx, id)
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	doc, err := s.store.Documents().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("document", err)
		}
		return nil, apperrors.Internal(err)
	}
	return doc, nil
}

func (s *Service) existingUser(ctx context.Context, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid owner id", err)
	}
	if _, err := s.store.Users().Get(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, apperrors.NotFound("owner", err)
		}
		return uuid.Nil, apperrors.Internal(err)
	}
	return id, nil
}

func (s *Service) audit(ctx context.Context, actorID uuid.UUID, action string, id uuid.UUID, before, after *model.Document) {
	if s.auditor == nil {
		return
	}
	var b, a interface{}
	if before != nil {
		b = before
	}
	if after != nil {
		a = after
	}
	s.auditor.LogAuditAction(ctx, actorID, action, model.AuditEntityDocument, id, b, a, "")
}
