package confirm

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) Send(_ context.Context, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, to+"|"+text)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    *Service
	cache  *memory.CodeCache
	users  domain.UserRepository
	email  *recordingSender
	phone  *recordingSender
	clock  *clock
	tokens *auth.Manager
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	tokens, err := auth.NewManager(auth.Config{Secret: "confirm-test-secret-0123456789"})
	require.NoError(t, err)

	f := fixture{
		cache:  memory.NewCodeCache(),
		users:  memory.NewUserRepository(memory.NewStore()),
		email:  &recordingSender{},
		phone:  &recordingSender{},
		clock:  &clock{now: time.Now()},
		tokens: tokens,
	}
	f.svc = NewService(f.cache, f.users, tokens, DefaultConfig(),
		WithSender(domain.ConfirmationEmail, f.email),
		WithSender(domain.ConfirmationPhone, f.phone),
		WithClock(f.clock.Now),
	)
	return f
}

func TestGenerateCode(t *testing.T) {
	t.Parallel()

	digits := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(6)
		require.NoError(t, err)
		require.Regexp(t, digits, code)
	}

	_, err := GenerateCode(0)
	require.Error(t, err)
}

func TestSend_ThrottlesSecondCall(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationEmail, Target: "a@b.ru"})
	require.NoError(t, err)
	require.Len(t, first.Code, 4)
	require.Equal(t, f.clock.Now().Add(120*time.Second), first.ExpiresAt)
	require.Equal(t, 1, f.email.count())

	f.clock.Advance(time.Second)
	_, err = f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationEmail, Target: "a@b.ru"})

	var throttledErr *domain.ThrottledError
	require.ErrorAs(t, err, &throttledErr)
	require.ErrorIs(t, err, domain.ErrThrottled)
	require.Equal(t, "01:59", domain.FormatRemaining(throttledErr.Remaining))
	require.Equal(t, first.ExpiresAt, throttledErr.ExpiresAt)
	require.Equal(t, 1, f.email.count())

	stored, ok, err := f.cache.Get(ctx, cacheKey(domain.ConfirmationEmail, "a@b.ru", ""))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, stored)
}

func TestSend_AfterWindowIssuesNewCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	codes := []string{"1111", "2222"}
	f.svc.generate = func(int) (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	_, err := f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationPhone, Target: "+79001112233"})
	require.NoError(t, err)

	f.clock.Advance(121 * time.Second)
	entry, err := f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationPhone, Target: "+79001112233"})
	require.NoError(t, err)
	require.Equal(t, "2222", entry.Code)
	require.Equal(t, 2, f.phone.count())

	stored, ok, err := f.cache.Get(ctx, cacheKey(domain.ConfirmationPhone, "+79001112233", ""))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2222", stored.Code)
}

func TestSend_DeliveryFailureLeavesCacheUnchanged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.email.err = errors.New("smtp down")
	_, err := f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationEmail, Target: "a@b.ru"})
	require.ErrorIs(t, err, domain.ErrSendFailed)

	_, ok, err := f.cache.Get(ctx, cacheKey(domain.ConfirmationEmail, "a@b.ru", ""))
	require.NoError(t, err)
	require.False(t, ok)

	f.email.err = nil
	previous, err := f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationEmail, Target: "a@b.ru"})
	require.NoError(t, err)

	f.clock.Advance(130 * time.Second)
	f.email.err = errors.New("smtp down again")
	_, err = f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationEmail, Target: "a@b.ru"})
	require.ErrorIs(t, err, domain.ErrSendFailed)

	stored, ok, err := f.cache.Get(ctx, cacheKey(domain.ConfirmationEmail, "a@b.ru", ""))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, previous, stored)
}

func TestSend_ConcurrentCallsIssueSingleCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	const callers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationPhone, Target: "+79005556677"})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, domain.ErrThrottled)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, f.phone.count())
}

func TestSend_ValidatesTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), SendRequest{Flow: domain.ConfirmationPhone, Target: "8900"})
	require.True(t, domain.IsValidation(err))

	_, err = f.svc.Send(context.Background(), SendRequest{Flow: domain.ConfirmationEmail, Target: "nobody"})
	require.True(t, domain.IsValidation(err))
}

func TestVerify_EmailFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.users.CreateUser(ctx, domain.User{Username: "buyer", Email: "a@b.ru", Active: true})
	require.NoError(t, err)

	entry := domain.CodeEntry{Code: "1234", ExpiresAt: f.clock.Now().Add(60 * time.Second), Lookup: "a@b.ru"}
	require.NoError(t, f.cache.CompareAndSwap(ctx, cacheKey(domain.ConfirmationEmail, "a@b.ru", ""), nil, entry, time.Hour))

	_, err = f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationEmail, Target: "a@b.ru", Code: "9999"})
	require.ErrorIs(t, err, domain.ErrInvalidCode)
	stored, err := f.users.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, stored.EmailConfirmed)

	res, err := f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationEmail, Target: "a@b.ru", Code: "1234"})
	require.NoError(t, err)
	require.True(t, res.User.EmailConfirmed)
	require.NotNil(t, res.Tokens)

	principal, err := f.tokens.ParseAccess(res.Tokens.Access)
	require.NoError(t, err)
	require.Equal(t, user.ID, principal.UserID)

	stored, err = f.users.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, stored.EmailConfirmed)
	require.True(t, stored.Active)

	_, err = f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationEmail, Target: "a@b.ru", Code: "1234"})
	require.ErrorIs(t, err, domain.ErrNoCode)
}

func TestVerify_EmailFlowDoesNotActivate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.users.CreateUser(ctx, domain.User{Username: "sleeper", Email: "s@b.ru"})
	require.NoError(t, err)
	require.NoError(t, f.cache.CompareAndSwap(ctx, cacheKey(domain.ConfirmationEmail, "s@b.ru", ""), nil,
		domain.CodeEntry{Code: "4321", ExpiresAt: f.clock.Now().Add(time.Minute), Lookup: "s@b.ru"}, time.Hour))

	_, err = f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationEmail, Target: "s@b.ru", Code: "4321", UserID: user.ID})
	require.NoError(t, err)

	stored, err := f.users.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, stored.EmailConfirmed)
	require.False(t, stored.Active)
}

func TestVerify_PhoneFlowRegistersCustomer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.svc.generate = func(int) (string, error) { return "5555", nil }
	_, err := f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationPhone, Target: "+79001234567"})
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationPhone, Target: "+79007654321", Code: "5555"})
	require.ErrorIs(t, err, domain.ErrNoCode)

	res, err := f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationPhone, Target: "+79001234567", Code: "5555"})
	require.NoError(t, err)
	require.True(t, res.User.Active)
	require.True(t, res.User.IsCustomer)
	require.Equal(t, "+79001234567", res.User.Phone)
	require.NotNil(t, res.Tokens)

	stored, err := f.users.GetUserByPhone(ctx, "+79001234567")
	require.NoError(t, err)
	require.Equal(t, res.User.ID, stored.ID)
}

func TestVerify_PhoneFlowActivatesExistingUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.users.CreateUser(ctx, domain.User{Username: "old", Phone: "+79000000001"})
	require.NoError(t, err)
	require.NoError(t, f.cache.CompareAndSwap(ctx, cacheKey(domain.ConfirmationPhone, "+79000000001", ""), nil,
		domain.CodeEntry{Code: "0007", ExpiresAt: f.clock.Now().Add(time.Minute), Lookup: "+79000000001"}, time.Hour))

	res, err := f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationPhone, Target: "+79000000001", Code: "0007"})
	require.NoError(t, err)
	require.Equal(t, user.ID, res.User.ID)
	require.True(t, res.User.Active)
}

func TestVerify_PhoneCodeIsBoundToTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	victim, err := f.users.CreateUser(ctx, domain.User{Username: "victim", Phone: "+79990000001", Active: true})
	require.NoError(t, err)

	f.svc.generate = func(int) (string, error) { return "2468", nil }
	_, err = f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationPhone, Target: "+79995555555", Salt: "s1"})
	require.NoError(t, err)

	res, err := f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationPhone, Target: "+79990000001", Salt: "s1", Code: "2468"})
	require.Error(t, err)
	require.Nil(t, res.Tokens)
	require.NotEqual(t, victim.ID, res.User.ID)

	res, err = f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationPhone, Target: "+79995555555", Salt: "s1", Code: "2468"})
	require.NoError(t, err)
	require.NotEqual(t, victim.ID, res.User.ID)
	require.Equal(t, "+79995555555", res.User.Phone)
}

func TestVerify_EmailCodeIsBoundToTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.users.CreateUser(ctx, domain.User{Username: "buyer", Email: "mine@b.ru", Active: true})
	require.NoError(t, err)

	f.svc.generate = func(int) (string, error) { return "1357", nil }
	_, err = f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationEmail, Target: "other@b.ru", Salt: "s1"})
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationEmail, Target: "mine@b.ru", Salt: "s1", Code: "1357", UserID: user.ID})
	require.Error(t, err)

	stored, err := f.users.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, stored.EmailConfirmed)
}

func TestVerify_RejectsEntryStoredForAnotherTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.CreateUser(ctx, domain.User{Username: "victim", Phone: "+79990000002", Active: true})
	require.NoError(t, err)
	entry := domain.CodeEntry{Code: "9999", ExpiresAt: f.clock.Now().Add(time.Minute), Lookup: "+79995555555"}
	require.NoError(t, f.cache.CompareAndSwap(ctx, cacheKey(domain.ConfirmationPhone, "+79990000002", "s1"), nil, entry, time.Hour))

	_, err = f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationPhone, Target: "+79990000002", Salt: "s1", Code: "9999"})
	require.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestVerify_SaltIsNotSharedAcrossFlows(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.svc.generate = func(int) (string, error) { return "8080", nil }
	_, err := f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationEmail, Target: "a@b.ru", Salt: "shared"})
	require.NoError(t, err)

	// Отправка по телефону с той же солью не попадает под окно запрета email.
	_, err = f.svc.Send(ctx, SendRequest{Flow: domain.ConfirmationPhone, Target: "+79001230000", Salt: "shared"})
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, VerifyRequest{Flow: domain.ConfirmationPhone, Target: "a@b.ru", Salt: "shared", Code: "8080"})
	require.Error(t, err)

	require.NotEqual(t, cacheKey(domain.ConfirmationEmail, "a@b.ru", "shared"), cacheKey(domain.ConfirmationPhone, "a@b.ru", "shared"))
}
