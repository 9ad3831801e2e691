package model

import (
	"fmt"

	"github.com/google/uuid"
)

type DocumentType string

const (
	DocumentTypePrescription DocumentType = "prescription"
	DocumentTypeMedicalTest  DocumentType = "medical_test"
	DocumentTypeInvoice      DocumentType = "invoice"
	DocumentTypeReport       DocumentType = "report"
	DocumentTypeOther        DocumentType = "other"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocumentTypePrescription, DocumentTypeMedicalTest, DocumentTypeInvoice, DocumentTypeReport, DocumentTypeOther:
		return true
	}
	return false
}

func ParseDocumentType(s string) (DocumentType, error) {
	t := DocumentType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown document type %q", s)
	}
	return t, nil
}

// Document holds the metadata of an uploaded file. The bytes live in external
// storage under StorageKey.
type Document struct {
	Base
	Name       string       `db:"name" json:"name"`
	Type       DocumentType `db:"type" json:"type"`
	FileFormat string       `db:"file_format" json:"file_format"`
	FileSize   int64        `db:"file_size" json:"file_size"`
	StorageKey string       `db:"storage_key" json:"storage_key"`
	UploaderID uuid.UUID    `db:"uploader_id" json:"uploader_id"`
	OwnerID    uuid.UUID    `db:"owner_id" json:"owner_id"`
	IsPrivate  bool         `db:"is_private" json:"is_private"`
}

// IsOwnerOrUploader reports whether userID bypasses the grant system.
func (d *Document) IsOwnerOrUploader(userID uuid.UUID) bool {
	return d.OwnerID == userID || d.UploaderID == userID
}

type CreateDocumentRequest struct {
	Name       string  `json:"name" binding:"required,max=255"`
	Type       string  `json:"type" binding:"required,document_type"`
	FileFormat string  `json:"file_format" binding:"required,max=32"`
	FileSize   int64   `json:"file_size" binding:"gte=0"`
	StorageKey string  `json:"storage_key" binding:"required"`
	OwnerID    *string `json:"owner_id" binding:"omitempty,uuid"`
	IsPrivate  *bool   `json:"is_private"`
}

// UpdateDocumentRequest carries a partial metadata edit; nil fields are left
// untouched.
type UpdateDocumentRequest struct {
	Name      *string `json:"name" binding:"omitempty,max=255"`
	Type      *string `json:"type" binding:"omitempty,document_type"`
	IsPrivate *bool   `json:"is_private"`
	OwnerID   *string `json:"owner_id" binding:"omitempty,uuid"`
}
