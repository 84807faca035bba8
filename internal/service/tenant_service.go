package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"billsystem/internal/config"
	"billsystem/internal/model"
	"billsystem/internal/repository"
	"billsystem/pkg/cuit"
	"billsystem/pkg/signature"

	"gorm.io/gorm"
)

var (
	ErrUnresolvedTenant = errors.New("无法路由到商户")
	ErrUnauthorized     = errors.New("签名校验失败")
)

// TenantService 多租户路由与商户配置管理
type TenantService struct {
	db           *gorm.DB
	cfg          *config.Config
	settingsRepo *repository.SettingsRepository
}

func NewTenantService(db *gorm.DB, cfg *config.Config) *TenantService {
	return &TenantService{
		db:           db,
		cfg:          cfg,
		settingsRepo: repository.NewSettingsRepository(db),
	}
}

// ResolveTenant 确定回调属于哪个商户
//
// 【路由规则】共享 webhook 入口不带租户信息，靠签名密钥反推：
// 逐个用激活配置的密钥试验签名，验过即命中（路由和鉴权一步完成）。
// 单租户部署可退化为显式的租户头。两条路都不通 -> 拒收，
// 绝不落到某个"默认商户"头上 —— 发票开错商户比丢一次回调严重得多。
func (s *TenantService) ResolveTenant(ctx context.Context, rawBody []byte, signatureHeader, tenantHeader string) (*model.BillingSettings, error) {
	if signatureHeader != "" {
		candidates, err := s.settingsRepo.ListActiveCandidates(ctx)
		if err != nil {
			return nil, fmt.Errorf("查询商户配置失败: %w", err)
		}
		for _, candidate := range candidates {
			if signature.Verify(rawBody, signatureHeader, candidate.WebhookSecret) {
				return candidate, nil
			}
		}
	}

	if tenantHeader != "" {
		tenantID, err := strconv.ParseInt(tenantHeader, 10, 64)
		if err != nil {
			return nil, ErrUnresolvedTenant
		}
		settings, err := s.settingsRepo.GetActiveByTenant(ctx, tenantID)
		if err != nil {
			if errors.Is(err, repository.ErrSettingsNotFound) {
				return nil, ErrUnresolvedTenant
			}
			return nil, err
		}
		return settings, nil
	}

	return nil, ErrUnresolvedTenant
}

// VerifySignature 对已路由的商户做签名校验
// 商户密钥、进程级兜底密钥依次尝试；allow_unsigned 打开时放行无签名投递
func (s *TenantService) VerifySignature(settings *model.BillingSettings, rawBody []byte, signatureHeader string) bool {
	verifier := signature.NewVerifier(
		settings.WebhookSecret,
		s.cfg.Webhook.FallbackSecret,
		s.cfg.Webhook.AllowUnsigned,
	)
	return verifier.VerifyRequest(rawBody, signatureHeader)
}

// SetActiveSettings 激活新开票配置（原子替换旧激活行）
func (s *TenantService) SetActiveSettings(ctx context.Context, settings *model.BillingSettings) error {
	if settings.TenantID <= 0 {
		return errors.New("tenant_id 不合法")
	}
	if settings.WebhookSecret == "" {
		return errors.New("webhook_secret 不能为空")
	}
	if settings.VATRate.IsNegative() {
		return errors.New("vat_rate 不能为负")
	}
	if !cuit.IsValid(settings.CompanyTaxID) {
		return fmt.Errorf("company_tax_id 校验位不合法: %s", settings.CompanyTaxID)
	}
	switch settings.CreditNoteStrategy {
	case model.CreditNoteStrategyAutomatic, model.CreditNoteStrategyManual, model.CreditNoteStrategyStub:
	default:
		return fmt.Errorf("credit_note_strategy 不合法: %s", settings.CreditNoteStrategy)
	}

	return s.settingsRepo.SetActive(ctx, settings)
}

// GetActiveSettings 查询商户当前激活配置，未配置返回 nil
func (s *TenantService) GetActiveSettings(ctx context.Context, tenantID int64) (*model.BillingSettings, error) {
	settings, err := s.settingsRepo.GetActiveByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrSettingsNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return settings, nil
}

// ListActiveTenantIDs 对账调度用：全部有激活配置的商户
func (s *TenantService) ListActiveTenantIDs(ctx context.Context) ([]int64, error) {
	return s.settingsRepo.ListActiveTenantIDs(ctx)
}
