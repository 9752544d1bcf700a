package billing

import (
	"github.com/inkpress/inkpress/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the datastore operations used by the reconciliation
// engine. Member billing fields are only written through
// UpdateMemberBilling, a compare-and-set on the member's version, so that
// concurrent webhook deliveries and checkout requests cannot interleave
// partial writes.
type Repository interface {
	GetMemberByID(id uint) (*models.Member, error)
	GetMemberByGatewayCustomer(gateway, customerID string) (*models.Member, error)
	GetMemberByGatewaySubscription(gateway, subscriptionID string) (*models.Member, error)

	// UpdateMemberBilling writes m's billing fields if the stored version
	// still equals expectedVersion. Returns false (and no error) when the
	// row moved on; the caller reloads and retries.
	UpdateMemberBilling(m *models.Member, expectedVersion uint64) (bool, error)

	// CreateGatewayCustomer inserts the member/gateway customer link if
	// none exists. Returns created=false and the surviving row when a
	// concurrent create won.
	CreateGatewayCustomer(gc *models.GatewayCustomer) (bool, *models.GatewayCustomer, error)
	GetGatewayCustomer(memberID uint, gateway string) (*models.GatewayCustomer, error)

	// MarkEventProcessed atomically check-and-inserts the dedup record.
	// Returns false when the event was already seen.
	MarkEventProcessed(event *models.ProcessedEvent) (bool, error)
	// ReleaseEvent removes a dedup record so the gateway's redelivery is
	// re-admitted after a transient processing failure.
	ReleaseEvent(gateway, eventID string) error

	// AppendLedgerEntry inserts an immutable payment record. Returns false
	// when a row with the same (gateway, gateway_payment_id) already
	// exists; existing rows are never touched.
	AppendLedgerEntry(entry *models.PaymentLedgerEntry) (bool, error)
	ListLedgerEntriesByMember(memberID uint) ([]models.PaymentLedgerEntry, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetMemberByID(id uint) (*models.Member, error) {
	var m models.Member
	if err := r.db.First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) GetMemberByGatewayCustomer(gateway, customerID string) (*models.Member, error) {
	var gc models.GatewayCustomer
	err := r.db.Where("gateway = ? AND customer_id = ?", gateway, customerID).First(&gc).Error
	if err != nil {
		return nil, err
	}
	return r.GetMemberByID(gc.MemberID)
}

func (r *gormRepository) GetMemberByGatewaySubscription(gateway, subscriptionID string) (*models.Member, error) {
	var m models.Member
	err := r.db.Where("gateway = ? AND gateway_subscription_id = ?", gateway, subscriptionID).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) UpdateMemberBilling(m *models.Member, expectedVersion uint64) (bool, error) {
	res := r.db.Model(&models.Member{}).
		Where("id = ? AND version = ?", m.ID, expectedVersion).
		Updates(map[string]interface{}{
			"tier":                    m.Tier,
			"subscription_status":     m.SubscriptionStatus,
			"gateway":                 m.Gateway,
			"gateway_subscription_id": m.GatewaySubscriptionID,
			"subscription_start_date": m.SubscriptionStartDate,
			"subscription_end_date":   m.SubscriptionEndDate,
			"canceled_at":             m.CanceledAt,
			"version":                 expectedVersion + 1,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	m.Version = expectedVersion + 1
	return true, nil
}

func (r *gormRepository) CreateGatewayCustomer(gc *models.GatewayCustomer) (bool, *models.GatewayCustomer, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "member_id"},
			{Name: "gateway"},
		},
		DoNothing: true,
	}).Create(gc)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.GatewayCustomer
	if err := r.db.Where("member_id = ? AND gateway = ?", gc.MemberID, gc.Gateway).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetGatewayCustomer(memberID uint, gateway string) (*models.GatewayCustomer, error) {
	var gc models.GatewayCustomer
	err := r.db.Where("member_id = ? AND gateway = ?", memberID, gateway).First(&gc).Error
	if err != nil {
		return nil, err
	}
	return &gc, nil
}

func (r *gormRepository) MarkEventProcessed(event *models.ProcessedEvent) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "gateway"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ReleaseEvent(gateway, eventID string) error {
	return r.db.Where("gateway = ? AND event_id = ?", gateway, eventID).
		Delete(&models.ProcessedEvent{}).Error
}

func (r *gormRepository) AppendLedgerEntry(entry *models.PaymentLedgerEntry) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "gateway"},
			{Name: "gateway_payment_id"},
		},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListLedgerEntriesByMember(memberID uint) ([]models.PaymentLedgerEntry, error) {
	var entries []models.PaymentLedgerEntry
	err := r.db.Where("member_id = ?", memberID).Order("created_at ASC").Find(&entries).Error
	return entries, err
}
