package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	errMissingVerifierDatabase = errors.New("auth: database handle is required")
	// ErrVerificationFailed covers unknown principals and wrong, expired, or
	// already-used codes. Callers surface it uniformly as 401.
	ErrVerificationFailed = errors.New("auth: invalid or expired OTP")
)

// VerifierConfig describes the dependencies for OTP verification.
type VerifierConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Verifier checks one-time login codes for users and operators. Codes are
// single-use: a successful check consumes the matched code and nothing else.
type Verifier struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewVerifier constructs the verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Database == nil {
		return nil, errMissingVerifierDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{db: cfg.Database, clock: clock, logger: logger}, nil
}

// VerifyUserOTP validates the code for the user identified by email and marks
// it used. Any failure leaves every stored code untouched.
func (v *Verifier) VerifyUserOTP(ctx context.Context, email, code string) (User, error) {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return User{}, ErrVerificationFailed
	}

	var user User
	err := v.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrVerificationFailed
	}
	if err != nil {
		return User{}, err
	}

	var candidates []OTP
	err = v.db.WithContext(ctx).
		Where("user_id = ? AND used = ? AND expires_at > ?", user.ID, false, v.clock()).
		Order("created_at DESC").
		Find(&candidates).Error
	if err != nil {
		return User{}, err
	}

	for _, candidate := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(candidate.CodeHash), []byte(code)) != nil {
			continue
		}
		if err := v.consume(ctx, &OTP{}, candidate.ID); err != nil {
			return User{}, err
		}
		return user, nil
	}
	v.logger.Warn("user otp verification failed", zap.Uint("user_id", user.ID))
	return User{}, ErrVerificationFailed
}

// OperatorVerification reports the outcome of a successful operator check.
type OperatorVerification struct {
	Operator  Operator
	FirstTime bool
}

// VerifyOperatorOTP validates the code for the operator identified by phone,
// marks it used, and reports whether the operator still needs first-time
// profile setup.
func (v *Verifier) VerifyOperatorOTP(ctx context.Context, phone, code string) (OperatorVerification, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" || code == "" {
		return OperatorVerification{}, ErrVerificationFailed
	}

	var operator Operator
	err := v.db.WithContext(ctx).Where("phone = ?", phone).Take(&operator).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return OperatorVerification{}, ErrVerificationFailed
	}
	if err != nil {
		return OperatorVerification{}, err
	}

	var candidates []OperatorOTP
	err = v.db.WithContext(ctx).
		Where("operator_id = ? AND used = ? AND expires_at > ?", operator.ID, false, v.clock()).
		Order("created_at DESC").
		Find(&candidates).Error
	if err != nil {
		return OperatorVerification{}, err
	}

	for _, candidate := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(candidate.CodeHash), []byte(code)) != nil {
			continue
		}
		if err := v.consume(ctx, &OperatorOTP{}, candidate.ID); err != nil {
			return OperatorVerification{}, err
		}
		return OperatorVerification{
			Operator:  operator,
			FirstTime: operator.Username == "" || operator.ProfileImage == "",
		}, nil
	}
	v.logger.Warn("operator otp verification failed", zap.Uint("operator_id", operator.ID))
	return OperatorVerification{}, ErrVerificationFailed
}

// consume flips used to true, guarding with used = false so two concurrent
// verifications of the same code cannot both succeed.
func (v *Verifier) consume(ctx context.Context, model any, id uint) error {
	result := v.db.WithContext(ctx).Model(model).
		Where("id = ? AND used = ?", id, false).
		Update("used", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVerificationFailed
	}
	return nil
}

// OperatorIDs lists every operator, for alert fan-out.
func (v *Verifier) OperatorIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := v.db.WithContext(ctx).Model(&Operator{}).Order("id").Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// HashCode bcrypt-hashes a one-time code for storage. Used by provisioning
// flows and tests.
func HashCode(code string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
