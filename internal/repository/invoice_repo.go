package repository

import (
	"context"
	"errors"
	"time"

	"billsystem/internal/model"

	"gorm.io/gorm"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, tx *gorm.DB, invoice *model.Invoice) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(invoice).Error
}

func (r *InvoiceRepository) GetByTransactionID(ctx context.Context, transactionID int64) (*model.Invoice, error) {
	var invoice model.Invoice
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// MarkSent 渠道受理成功，回写 CAE / 票号 / PDF
func (r *InvoiceRepository) MarkSent(ctx context.Context, tx *gorm.DB, id int64, number, cae, pdfURL, responsePayload string) error {
	if tx == nil {
		tx = r.db
	}
	now := time.Now()
	return tx.WithContext(ctx).
		Model(&model.Invoice{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           model.VoucherStatusSent,
			"number":           number,
			"cae":              cae,
			"pdf_url":          pdfURL,
			"response_payload": responsePayload,
			"issued_at":        &now,
		}).Error
}

// MarkError 渠道拒绝或传输失败，留痕等对账任务重试
func (r *InvoiceRepository) MarkError(ctx context.Context, tx *gorm.DB, id int64, messages, responsePayload string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Invoice{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           model.VoucherStatusError,
			"error_messages":   messages,
			"response_payload": responsePayload,
		}).Error
}

type CreditNoteRepository struct {
	db *gorm.DB
}

func NewCreditNoteRepository(db *gorm.DB) *CreditNoteRepository {
	return &CreditNoteRepository{db: db}
}

func (r *CreditNoteRepository) Create(ctx context.Context, tx *gorm.DB, note *model.CreditNote) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(note).Error
}

func (r *CreditNoteRepository) GetByTransactionID(ctx context.Context, transactionID int64) (*model.CreditNote, error) {
	var note model.CreditNote
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&note).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &note, nil
}

func (r *CreditNoteRepository) MarkSent(ctx context.Context, tx *gorm.DB, id int64, number, cae, pdfURL, responsePayload string) error {
	if tx == nil {
		tx = r.db
	}
	now := time.Now()
	return tx.WithContext(ctx).
		Model(&model.CreditNote{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           model.VoucherStatusSent,
			"number":           number,
			"cae":              cae,
			"pdf_url":          pdfURL,
			"response_payload": responsePayload,
			"issued_at":        &now,
		}).Error
}

func (r *CreditNoteRepository) MarkError(ctx context.Context, tx *gorm.DB, id int64, messages, responsePayload string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.CreditNote{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           model.VoucherStatusError,
			"error_messages":   messages,
			"response_payload": responsePayload,
		}).Error
}
