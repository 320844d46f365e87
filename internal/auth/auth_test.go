package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/reborn/internal/domain"
	"github.com/ashureev/reborn/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	mu      sync.Mutex
	byPhone map[string]*domain.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byPhone: make(map[string]*domain.User)}
}

func (f *fakeUsers) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byPhone {
		if u.UserID == userID {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetOrCreateUserByPhone(_ context.Context, phone string) (*domain.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byPhone[phone]; ok {
		return u, false, nil
	}
	u := &domain.User{UserID: "user-" + phone, Phone: phone, IsActive: true}
	f.byPhone[phone] = u
	return u, true, nil
}

type recordingSender struct {
	phone, code string
	err         error
}

func (r *recordingSender) SendCode(_ context.Context, phone, code string) error {
	r.phone, r.code = phone, code
	return r.err
}

func newTestService(t *testing.T, sender Sender, users *fakeUsers) (*Service, *identity.Tokens) {
	t.Helper()
	tokens, err := identity.NewTokens("secret", "reborn", time.Hour)
	require.NoError(t, err)
	svc := NewService(NewMemoryCodeStore(time.Minute), sender, users, tokens, Config{CodeLength: 6, CodeTTL: time.Minute})
	return svc, tokens
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+86 138-0000-1234", "+8613800001234", false},
		{"(555) 123.4567", "5551234567", false},
		{"  13800001234 ", "13800001234", false},
		{"12345", "", true},
		{"+86abc1234567", "", true},
		{"", "", true},
		{"++8613800001234", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateCode(t *testing.T) {
	for _, length := range []int{4, 6, 8} {
		code, err := GenerateCode(length)
		require.NoError(t, err)
		assert.Len(t, code, length)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9', code)
		}
	}

	_, err := GenerateCode(0)
	assert.Error(t, err)
}

func TestMemoryCodeStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCodeStore(time.Minute)

	assert.ErrorIs(t, s.Consume(ctx, "+100000000", "123456"), ErrCodeExpired)

	require.NoError(t, s.Save(ctx, "+100000000", "123456", time.Minute))
	assert.ErrorIs(t, s.Consume(ctx, "+100000000", "654321"), ErrInvalidCode)
	require.NoError(t, s.Consume(ctx, "+100000000", "123456"))
	assert.ErrorIs(t, s.Consume(ctx, "+100000000", "123456"), ErrCodeExpired, "codes are single use")

	require.NoError(t, s.Save(ctx, "+100000001", "111111", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	assert.ErrorIs(t, s.Consume(ctx, "+100000001", "111111"), ErrCodeExpired)

	assert.NoError(t, s.Ping(ctx))
}

func TestSendAndVerify(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{}
	users := newFakeUsers()
	svc, tokens := newTestService(t, sender, users)

	code, err := svc.SendCode(ctx, "+86 138 0000 1234")
	require.NoError(t, err)
	assert.Equal(t, code, sender.code)
	assert.Equal(t, "+8613800001234", sender.phone)

	login, err := svc.VerifyCode(ctx, "+86-138-0000-1234", code)
	require.NoError(t, err)
	assert.True(t, login.Created)

	sub, err := tokens.Verify(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, login.User.UserID, sub)

	_, err = svc.VerifyCode(ctx, "+8613800001234", code)
	assert.ErrorIs(t, err, ErrCodeExpired)

	code, err = svc.SendCode(ctx, "+8613800001234")
	require.NoError(t, err)
	login, err = svc.VerifyCode(ctx, "+8613800001234", code)
	require.NoError(t, err)
	assert.False(t, login.Created)
}

func TestVerifyWrongCode(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &recordingSender{}, newFakeUsers())

	code, err := svc.SendCode(ctx, "+8613800001234")
	require.NoError(t, err)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = svc.VerifyCode(ctx, "+8613800001234", wrong)
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = svc.VerifyCode(ctx, "+8613800001234", " ")
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = svc.VerifyCode(ctx, "+8613800001234", code)
	assert.NoError(t, err, "a wrong guess must not burn the pending code")
}

func TestVerifyInactiveUser(t *testing.T) {
	ctx := context.Background()
	users := newFakeUsers()
	users.byPhone["+8613800001234"] = &domain.User{UserID: "u1", Phone: "+8613800001234", IsActive: false}
	svc, _ := newTestService(t, &recordingSender{}, users)

	code, err := svc.SendCode(ctx, "+8613800001234")
	require.NoError(t, err)
	_, err = svc.VerifyCode(ctx, "+8613800001234", code)
	assert.ErrorIs(t, err, ErrUserInactive)
}

func TestSendCodeErrors(t *testing.T) {
	ctx := context.Background()

	svc, _ := newTestService(t, &recordingSender{}, newFakeUsers())
	_, err := svc.SendCode(ctx, "call me")
	assert.ErrorIs(t, err, ErrInvalidPhone)

	failing := &recordingSender{err: errors.New("gateway down")}
	svc, _ = newTestService(t, failing, newFakeUsers())
	_, err = svc.SendCode(ctx, "+8613800001234")
	assert.Error(t, err)
}

func TestRedisCodeStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisCodeStore(context.Background(), "not a url")
	assert.Error(t, err)
}
