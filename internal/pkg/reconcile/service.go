package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/lovebloom/lovebloom/app/models"
	"github.com/lovebloom/lovebloom/app/repository"
	"github.com/lovebloom/lovebloom/internal/pkg/payment"
	"github.com/lovebloom/lovebloom/internal/pkg/photostore"
)

// ErrReconciliation marks a fatal failure to materialize the couple
// record. Payments hit by it keep a NULL couple_id, so a redelivered
// success event (or manual retry) re-attempts safely.
var ErrReconciliation = errors.New("reconciliation failed")

const placeholderURLFormat = "https://placehold.co/360x640/1a1a2e/ff007f?text=Foto+%d"

// PhotoStore uploads one photo and returns its public URL.
type PhotoStore interface {
	Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error)
}

// Service is the single consumer of normalized payment events. It turns a
// confirmed payment into durable couple/photo records and keeps payment
// status in sync for every other event.
type Service struct {
	couples     repository.CoupleRepository
	payments    repository.PaymentRepository
	partners    repository.PartnerRepository
	commissions repository.CommissionRepository
	store       PhotoStore
}

// Result describes what one event did to local state.
type Result struct {
	PaymentID         uint
	Status            string
	CoupleID          uint
	URLSlug           string
	PhotosStored      int
	PhotosDegraded    int
	CommissionCreated bool
	AlreadyReconciled bool
	// UnmappedStatus carries the provider status verbatim when no local
	// transition applies; the local row was left untouched.
	UnmappedStatus string
}

// NewService creates a reconciliation service with injected dependencies.
func NewService(couples repository.CoupleRepository, payments repository.PaymentRepository, partners repository.PartnerRepository, commissions repository.CommissionRepository, store PhotoStore) *Service {
	return &Service{
		couples:     couples,
		payments:    payments,
		partners:    partners,
		commissions: commissions,
		store:       store,
	}
}

// NewServiceFromRepositories wires the service to shared repositories.
func NewServiceFromRepositories(repos *repository.Repositories, store PhotoStore) *Service {
	return NewService(repos.Couple, repos.Payment, repos.Partner, repos.Commission, store)
}

// ProcessEvent resolves the event's payment, maps the provider status and
// reconciles on a transition into succeeded. Delivery is at-least-once,
// possibly duplicated and out of order; everything below is safe to rerun.
func (s *Service) ProcessEvent(ctx context.Context, ev payment.NormalizedPaymentEvent) (*Result, error) {
	pmt, err := s.payments.GetByCorrelationToken(ev.CorrelationToken)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: correlation token %s", payment.ErrNotFound, ev.CorrelationToken)
		}
		return nil, err
	}

	status, ok := payment.MapProviderStatus(ev.ProviderStatus)
	if !ok {
		log.Warnf("[Reconcile] payment %d: unmapped provider status %q left local status %q untouched", pmt.ID, ev.ProviderStatus, pmt.Status)
		return &Result{PaymentID: pmt.ID, Status: pmt.Status, UnmappedStatus: ev.ProviderStatus}, nil
	}

	if status != models.PaymentStatusSucceeded {
		if err := s.payments.UpdateStatus(pmt.ID, status, ev.ProviderPaymentID, ev.ProviderStatus, paymentMethodOrDefault(ev)); err != nil {
			return nil, err
		}
		log.Infof("[Reconcile] payment %d status updated to %s (provider status %s)", pmt.ID, status, ev.ProviderStatus)
		return &Result{PaymentID: pmt.ID, Status: status}, nil
	}

	return s.reconcile(ctx, pmt, ev)
}

// reconcile materializes the couple record for a confirmed payment. The
// triple guard (success transition AND couple_id NULL AND draft present)
// is the only concurrency-safety mechanism; there are no locks.
func (s *Service) reconcile(ctx context.Context, pmt *models.Payment, ev payment.NormalizedPaymentEvent) (*Result, error) {
	if pmt.IsReconciled() {
		// duplicate success event: re-confirming the status is safe,
		// creating anything again is not
		if err := s.payments.UpdateStatus(pmt.ID, models.PaymentStatusSucceeded, ev.ProviderPaymentID, ev.ProviderStatus, paymentMethodOrDefault(ev)); err != nil {
			return nil, err
		}
		log.Infof("[Reconcile] payment %d already reconciled to couple %d, skipping", pmt.ID, *pmt.CoupleID)
		return &Result{PaymentID: pmt.ID, Status: models.PaymentStatusSucceeded, CoupleID: *pmt.CoupleID, AlreadyReconciled: true}, nil
	}

	draft, err := pmt.DecodeDraft()
	if err != nil {
		return nil, fmt.Errorf("%w: payment %d draft is unreadable: %v", ErrReconciliation, pmt.ID, err)
	}
	if draft == nil {
		// success signal must not be lost even if there is nothing to
		// materialize
		if updateErr := s.payments.UpdateStatus(pmt.ID, models.PaymentStatusSucceeded, ev.ProviderPaymentID, ev.ProviderStatus, paymentMethodOrDefault(ev)); updateErr != nil {
			return nil, updateErr
		}
		return nil, fmt.Errorf("%w: payment %d has no draft to reconcile", ErrReconciliation, pmt.ID)
	}

	slug, err := GenerateSlug(draft.CoupleName, s.couples.SlugExists)
	if err != nil {
		return nil, fmt.Errorf("%w: slug generation for payment %d: %v", ErrReconciliation, pmt.ID, err)
	}

	startDate, err := time.Parse("2006-01-02", draft.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: payment %d draft has invalid start date %q: %v", ErrReconciliation, pmt.ID, draft.StartDate, err)
	}

	couple := &models.Couple{
		CoupleName: draft.CoupleName,
		StartDate:  startDate,
		StartTime:  draft.StartTime,
		Message:    draft.Message,
		Plan:       draft.Plan,
		MusicURL:   draft.MusicURL,
		Email:      draft.Email,
		URLSlug:    slug,
	}
	if err := s.couples.Create(couple); err != nil {
		// fatal: couple_id stays NULL so a redelivery retries
		return nil, fmt.Errorf("%w: couple insert for payment %d: %v", ErrReconciliation, pmt.ID, err)
	}
	log.Infof("[Reconcile] couple %d created for payment %d slug=%s", couple.ID, pmt.ID, slug)

	stored, degraded := s.storePhotos(ctx, couple.ID, draft)

	claimed, err := s.payments.SetCoupleIfUnset(pmt.ID, couple.ID, ev.ProviderPaymentID, ev.ProviderStatus, paymentMethodOrDefault(ev))
	if err != nil {
		return nil, fmt.Errorf("%w: payment %d finalization: %v", ErrReconciliation, pmt.ID, err)
	}
	if !claimed {
		// a concurrent duplicate won the claim; drop our duplicate couple
		// (photos cascade) and defer to the winner
		log.Warnf("[Reconcile] payment %d was claimed concurrently, removing duplicate couple %d", pmt.ID, couple.ID)
		if delErr := s.couples.Delete(couple.ID); delErr != nil {
			log.Errorf("[Reconcile] duplicate couple %d could not be removed: %v", couple.ID, delErr)
		}
		return &Result{PaymentID: pmt.ID, Status: models.PaymentStatusSucceeded, AlreadyReconciled: true}, nil
	}

	if err := s.payments.ClearDraft(pmt.ID); err != nil {
		log.Warnf("[Reconcile] payment %d draft could not be cleared: %v", pmt.ID, err)
	}

	commissionCreated := s.recordCommission(pmt)

	log.Infof("[Reconcile] payment %d reconciled: couple=%d slug=%s photos=%d degraded=%d commission=%t",
		pmt.ID, couple.ID, slug, stored, degraded, commissionCreated)

	return &Result{
		PaymentID:         pmt.ID,
		Status:            models.PaymentStatusSucceeded,
		CoupleID:          couple.ID,
		URLSlug:           slug,
		PhotosStored:      stored,
		PhotosDegraded:    degraded,
		CommissionCreated: commissionCreated,
	}, nil
}

// storePhotos uploads the draft's embedded photos. Every photo is
// independent: a failed decode or upload substitutes a placeholder URL and
// the loop continues. Degraded photos are preferred over lost purchases.
func (s *Service) storePhotos(ctx context.Context, coupleID uint, draft *models.Draft) (stored, degraded int) {
	photos := draft.PhotosBase64
	if limit := models.PlanPhotoLimit(draft.Plan); len(photos) > limit {
		log.Warnf("[Reconcile] couple %d draft carries %d photos, truncating to plan limit %d", coupleID, len(photos), limit)
		photos = photos[:limit]
	}

	for i, dataURI := range photos {
		order := i + 1
		photo := &models.CouplePhoto{
			CoupleID:   coupleID,
			PhotoOrder: order,
			FileName:   fmt.Sprintf("photo_%d.jpg", order),
		}

		url, meta, err := s.uploadPhoto(ctx, coupleID, order, dataURI)
		if err != nil {
			log.Errorf("[Reconcile] photo %d of couple %d degraded to placeholder: %v", order, coupleID, err)
			photo.PhotoURL = fmt.Sprintf(placeholderURLFormat, order)
			degraded++
		} else {
			photo.PhotoURL = url
			photo.FileName = meta.fileName
			photo.FileSize = meta.fileSize
			photo.FileType = meta.mimeType
			photo.Width = meta.width
			photo.Height = meta.height
		}

		if err := s.couples.AddPhoto(photo); err != nil {
			log.Errorf("[Reconcile] photo row %d of couple %d could not be stored: %v", order, coupleID, err)
			degraded++
			continue
		}
		stored++
	}
	return stored, degraded
}

type photoMeta struct {
	fileName string
	fileSize int64
	mimeType string
	width    int
	height   int
}

func (s *Service) uploadPhoto(ctx context.Context, coupleID uint, order int, dataURI string) (string, photoMeta, error) {
	mimeType, data, err := photostore.DecodeDataURI(dataURI)
	if err != nil {
		return "", photoMeta{}, err
	}

	ext := photostore.ExtensionForMime(mimeType)
	fileName := fmt.Sprintf("%d-%d-%d.%s", coupleID, order, time.Now().UnixMilli(), ext)
	objectKey := fmt.Sprintf("%d/%s", coupleID, fileName)

	url, err := s.store.Upload(ctx, objectKey, data, mimeType)
	if err != nil {
		return "", photoMeta{}, err
	}

	meta := photoMeta{
		fileName: fileName,
		fileSize: int64(len(data)),
		mimeType: mimeType,
	}
	if img, decodeErr := imaging.Decode(bytes.NewReader(data)); decodeErr == nil {
		bounds := img.Bounds()
		meta.width = bounds.Dx()
		meta.height = bounds.Dy()
	}
	return url, meta, nil
}

// recordCommission is best-effort bookkeeping: failure is logged and never
// rolls back the reconciled purchase.
func (s *Service) recordCommission(pmt *models.Payment) bool {
	if pmt.PartnerID == nil || *pmt.PartnerID == 0 {
		return false
	}

	partner, err := s.partners.GetByID(*pmt.PartnerID)
	if err != nil {
		log.Errorf("[Reconcile] partner %d lookup for payment %d failed: %v", *pmt.PartnerID, pmt.ID, err)
		return false
	}

	amount := int64(math.Round(float64(pmt.Amount) * partner.CommissionPercentage / 100))
	created, err := s.commissions.CreateIfNotExists(&models.Commission{
		PartnerID:            partner.ID,
		PaymentID:            pmt.ID,
		CommissionAmount:     amount,
		CommissionPercentage: partner.CommissionPercentage,
		Status:               models.CommissionStatusPending,
	})
	if err != nil {
		log.Errorf("[Reconcile] commission for payment %d could not be stored: %v", pmt.ID, err)
		return false
	}
	if !created {
		log.Infof("[Reconcile] commission for payment %d already exists, skipping", pmt.ID)
	}
	return created
}

func paymentMethodOrDefault(ev payment.NormalizedPaymentEvent) string {
	if ev.PaymentMethod != "" {
		return ev.PaymentMethod
	}
	return ev.Provider
}
