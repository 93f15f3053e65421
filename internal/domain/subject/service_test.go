package subject

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresafe/caresafe/internal/catalog"
	"github.com/caresafe/caresafe/internal/domain/access"
	"github.com/caresafe/caresafe/internal/domain/audit"
	"github.com/caresafe/caresafe/internal/domain/conflict"
	"github.com/caresafe/caresafe/internal/platform/auth"
)

type memRepo struct {
	mu           sync.Mutex
	subjects     map[uuid.UUID]*Subject
	medications  map[uuid.UUID][]*Medication
	allergies    map[uuid.UUID][]*Allergy
	restrictions map[uuid.UUID][]*DietaryRestriction
	biometrics   map[uuid.UUID][]*BiometricReading
	failAdd      error
}

func newMemRepo() *memRepo {
	return &memRepo{
		subjects:     make(map[uuid.UUID]*Subject),
		medications:  make(map[uuid.UUID][]*Medication),
		allergies:    make(map[uuid.UUID][]*Allergy),
		restrictions: make(map[uuid.UUID][]*DietaryRestriction),
		biometrics:   make(map[uuid.UUID][]*BiometricReading),
	}
}

func (m *memRepo) CreateSubject(ctx context.Context, s *Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.subjects[s.ID] = s
	return nil
}

func (m *memRepo) GetSubject(ctx context.Context, tenantID string, id uuid.UUID) (*Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *memRepo) GetProfile(ctx context.Context, tenantID string, id uuid.UUID) (*Profile, error) {
	s, err := m.GetSubject(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Profile{
		Subject:             s,
		Medications:         m.medications[id],
		Allergies:           m.allergies[id],
		DietaryRestrictions: m.restrictions[id],
		Biometrics:          m.biometrics[id],
	}, nil
}

func (m *memRepo) AddMedication(ctx context.Context, med *Medication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAdd != nil {
		return m.failAdd
	}
	if med.ID == uuid.Nil {
		med.ID = uuid.New()
	}
	if med.ActiveSince.IsZero() {
		med.ActiveSince = time.Now().UTC()
	}
	m.medications[med.SubjectID] = append(m.medications[med.SubjectID], med)
	return nil
}

func (m *memRepo) SupersedeMedication(ctx context.Context, subjectID, medicationID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, med := range m.medications[subjectID] {
		if med.ID == medicationID && med.SupersededAt == nil {
			med.SupersededAt = &at
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRepo) ReplaceAllergies(ctx context.Context, subjectID uuid.UUID, allergies []*Allergy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, a := range m.allergies[subjectID] {
		if a.SupersededAt == nil {
			a.SupersededAt = &now
		}
	}
	m.allergies[subjectID] = append(m.allergies[subjectID], allergies...)
	return nil
}

func (m *memRepo) ReplaceDietaryRestrictions(ctx context.Context, subjectID uuid.UUID, restrictions []*DietaryRestriction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, d := range m.restrictions[subjectID] {
		if d.SupersededAt == nil {
			d.SupersededAt = &now
		}
	}
	m.restrictions[subjectID] = append(m.restrictions[subjectID], restrictions...)
	return nil
}

func (m *memRepo) AddBiometric(ctx context.Context, b *BiometricReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	m.biometrics[b.SubjectID] = append(m.biometrics[b.SubjectID], b)
	return nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (m *memAuditRepo) Insert(ctx context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *e
	m.entries = append(m.entries, &copied)
	return nil
}

func (m *memAuditRepo) ListBySubject(ctx context.Context, tenantID, subjectID string, limit, offset int) ([]*audit.Entry, int, error) {
	return nil, 0, nil
}

func (m *memAuditRepo) ListByTenantRange(ctx context.Context, tenantID string, from, to time.Time, limit, offset int) ([]*audit.Entry, int, error) {
	return nil, 0, nil
}

func (m *memAuditRepo) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memAuditRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memAuditRepo) last() *audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

type memRelRepo struct {
	mu   sync.Mutex
	rels map[string]*access.Relationship
}

func newMemRelRepo() *memRelRepo {
	return &memRelRepo{rels: make(map[string]*access.Relationship)}
}

func (m *memRelRepo) key(t, a, s string) string { return t + "|" + a + "|" + s }

func (m *memRelRepo) Get(ctx context.Context, tenantID, actorID, subjectID string) (*access.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.rels[m.key(tenantID, actorID, subjectID)]
	if !ok {
		return nil, access.ErrNotFound
	}
	return rel, nil
}

func (m *memRelRepo) Set(ctx context.Context, rel *access.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rels[m.key(rel.TenantID, rel.ActorID, rel.SubjectID)] = rel
	return nil
}

func (m *memRelRepo) ListForSubject(ctx context.Context, tenantID, subjectID string) ([]*access.Relationship, error) {
	return nil, nil
}

type memEmergencyLogs struct{}

func (memEmergencyLogs) InsertEmergencyLog(ctx context.Context, log *access.EmergencyAccessLog) error {
	return nil
}

func (memEmergencyLogs) ListEmergencyLogs(ctx context.Context, tenantID, subjectID string, limit, offset int) ([]*access.EmergencyAccessLog, int, error) {
	return nil, 0, nil
}

type fixture struct {
	service   *Service
	repo      *memRepo
	auditRepo *memAuditRepo
	relRepo   *memRelRepo
	workflow  *access.Workflow
	subjectID uuid.UUID
	owner     auth.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	auditRepo := &memAuditRepo{}
	relRepo := newMemRelRepo()

	ledger := audit.NewLedger(auditRepo, zerolog.Nop())
	workflow := access.NewWorkflow(memEmergencyLogs{}, ledger, zerolog.Nop(), 10*time.Minute)
	gate := access.NewGate(relRepo, workflow, zerolog.Nop())
	engine := conflict.NewEngine(catalog.Default(), zerolog.Nop())

	svc := NewService(repo, engine, gate, ledger, zerolog.Nop())

	sub := &Subject{TenantID: "tenant_a", OwnerID: "owner-1", DisplayName: "Test Subject"}
	if err := repo.CreateSubject(context.Background(), sub); err != nil {
		t.Fatalf("seed subject: %v", err)
	}

	return &fixture{
		service:   svc,
		repo:      repo,
		auditRepo: auditRepo,
		relRepo:   relRepo,
		workflow:  workflow,
		subjectID: sub.ID,
		owner:     auth.Principal{ActorID: "owner-1", TenantID: "tenant_a", Roles: []string{auth.RolePatient}},
	}
}

func (f *fixture) seedMedication(t *testing.T, name string, critical bool) {
	t.Helper()
	if err := f.repo.AddMedication(context.Background(), &Medication{
		SubjectID: f.subjectID, Name: name, Critical: critical,
	}); err != nil {
		t.Fatalf("seed medication: %v", err)
	}
}

func (f *fixture) seedAllergy(t *testing.T, allergen string, sev conflict.Severity) {
	t.Helper()
	f.repo.allergies[f.subjectID] = append(f.repo.allergies[f.subjectID], &Allergy{
		ID: uuid.New(), SubjectID: f.subjectID, Allergen: allergen, Severity: sev, RecordedAt: time.Now().UTC(),
	})
}

func TestAddMedication_CleanAllows(t *testing.T) {
	f := newFixture(t)

	res, err := f.service.AddMedication(context.Background(), f.owner, f.subjectID,
		MedicationInput{Name: "amoxicillin", Dose: "500mg"}, RequestMeta{})
	if err != nil {
		t.Fatalf("AddMedication: %v", err)
	}
	if res.Disposition != conflict.DispositionAllow {
		t.Errorf("Disposition = %s, want allow", res.Disposition)
	}
	if !res.Persisted {
		t.Error("expected persistence on allow")
	}
	if res.AuditEntryID == uuid.Nil {
		t.Error("audit entry must be recorded before return")
	}
	if f.auditRepo.count() != 1 {
		t.Errorf("audit entries = %d, want 1", f.auditRepo.count())
	}
}

func TestAddMedication_InteractionRequiresApproval(t *testing.T) {
	f := newFixture(t)
	f.seedMedication(t, "Warfarin", false)

	res, err := f.service.AddMedication(context.Background(), f.owner, f.subjectID,
		MedicationInput{Name: "Aspirin"}, RequestMeta{})
	if err != nil {
		t.Fatalf("AddMedication: %v", err)
	}
	if res.Disposition != conflict.DispositionRequireApproval {
		t.Fatalf("Disposition = %s, want require_approval", res.Disposition)
	}
	if res.Persisted {
		t.Error("blocked-for-approval mutation must not persist")
	}
	if res.OverrideEndpoint == "" {
		t.Error("expected override endpoint on require_approval")
	}
	if len(f.repo.medications[f.subjectID]) != 1 {
		t.Errorf("medications = %d, want 1 (only seeded)", len(f.repo.medications[f.subjectID]))
	}

	entry := f.auditRepo.last()
	if entry == nil || len(entry.ConflictsObserved) != 1 {
		t.Fatalf("audit entry must embed the observed conflicts, got %+v", entry)
	}
}

func TestApplyRecipe_AllergenBlocks(t *testing.T) {
	f := newFixture(t)
	f.seedAllergy(t, "peanuts", conflict.SeverityCritical)

	res, err := f.service.ApplyRecipe(context.Background(), f.owner, f.subjectID,
		[]string{"peanut oil", "flour"}, RequestMeta{})
	if err != nil {
		t.Fatalf("ApplyRecipe: %v", err)
	}
	if res.Disposition != conflict.DispositionBlock {
		t.Fatalf("Disposition = %s, want block", res.Disposition)
	}
	if res.Persisted {
		t.Error("blocked recipe must not persist")
	}
	if res.OverrideEndpoint != "" {
		t.Error("allergy blocks must not advertise an override")
	}
}

func TestApplyRecipe_DietaryWarnProceeds(t *testing.T) {
	f := newFixture(t)
	f.repo.restrictions[f.subjectID] = []*DietaryRestriction{{
		ID: uuid.New(), SubjectID: f.subjectID, Kind: "vegan", RecordedAt: time.Now().UTC(),
	}}

	res, err := f.service.ApplyRecipe(context.Background(), f.owner, f.subjectID,
		[]string{"chicken", "rice"}, RequestMeta{})
	if err != nil {
		t.Fatalf("ApplyRecipe: %v", err)
	}
	if res.Disposition != conflict.DispositionWarn {
		t.Fatalf("Disposition = %s, want warn", res.Disposition)
	}
	if !res.Persisted {
		t.Error("warn proceeds")
	}

	// Proceeding past the warning is a decision in its own right and
	// must be visible on the entry, not only via the conflict list.
	entry := f.auditRepo.last()
	if entry == nil {
		t.Fatal("no audit entry recorded")
	}
	found := false
	for _, fl := range entry.ComplianceFlags {
		if fl == audit.FlagWarnProceeded {
			found = true
		}
	}
	if !found {
		t.Errorf("ComplianceFlags = %v, want %s", entry.ComplianceFlags, audit.FlagWarnProceeded)
	}
	if len(entry.ConflictsObserved) != 1 {
		t.Errorf("ConflictsObserved = %d, want 1", len(entry.ConflictsObserved))
	}
}

func TestAddMedication_PersistFailureStillAudited(t *testing.T) {
	f := newFixture(t)
	f.repo.failAdd = errors.New("connection reset")

	_, err := f.service.AddMedication(context.Background(), f.owner, f.subjectID,
		MedicationInput{Name: "amoxicillin"}, RequestMeta{})
	if err == nil {
		t.Fatal("expected persistence error to surface")
	}

	// The gate ran and the evaluation ran; the attempt must be on the
	// ledger even though the write failed.
	if f.auditRepo.count() != 1 {
		t.Fatalf("audit entries = %d, want 1", f.auditRepo.count())
	}
	entry := f.auditRepo.last()
	found := false
	for _, fl := range entry.ComplianceFlags {
		if fl == audit.FlagPersistFailed {
			found = true
		}
	}
	if !found {
		t.Errorf("ComplianceFlags = %v, want %s", entry.ComplianceFlags, audit.FlagPersistFailed)
	}
}

func TestUpdateBiometrics_AnomalyWarns(t *testing.T) {
	f := newFixture(t)
	f.repo.biometrics[f.subjectID] = []*BiometricReading{{
		ID: uuid.New(), SubjectID: f.subjectID, Kind: BiometricWeight,
		Value: 150, Unit: "lb", TakenAt: time.Now().Add(-24 * time.Hour),
	}}

	res, err := f.service.UpdateBiometrics(context.Background(), f.owner, f.subjectID,
		BiometricInput{Kind: BiometricWeight, Value: 200, Unit: "lb", TakenAt: time.Now()}, RequestMeta{})
	if err != nil {
		t.Fatalf("UpdateBiometrics: %v", err)
	}
	if res.Disposition != conflict.DispositionWarn {
		t.Fatalf("Disposition = %s, want warn", res.Disposition)
	}
	if !res.Persisted {
		t.Error("anomalous reading is still recorded")
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Type != conflict.TypeBiometricAnomaly {
		t.Errorf("Conflicts = %+v, want one biometric anomaly", res.Conflicts)
	}
}

func TestGetProfile_DeniedIsAudited(t *testing.T) {
	f := newFixture(t)

	stranger := auth.Principal{ActorID: "stranger", TenantID: "tenant_a", Roles: []string{auth.RolePatient}}
	_, err := f.service.GetProfile(context.Background(), stranger, f.subjectID, RequestMeta{})
	if !errors.Is(err, access.ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}
	if f.auditRepo.count() != 1 {
		t.Fatalf("denied access must still be audited, entries = %d", f.auditRepo.count())
	}
}

func TestGetProfile_CrossTenantDenied(t *testing.T) {
	f := newFixture(t)

	// Same actor ID as the owner, wrong tenant.
	outsider := auth.Principal{ActorID: "owner-1", TenantID: "tenant_b", Roles: []string{auth.RoleSuperAdmin}}
	_, err := f.service.GetProfile(context.Background(), outsider, f.subjectID, RequestMeta{})
	if !errors.Is(err, ErrNotFound) && !errors.Is(err, access.ErrDenied) {
		t.Fatalf("cross-tenant read must fail, got %v", err)
	}
}

func TestGetProfile_EmergencyScopeReturnsCriticalSubset(t *testing.T) {
	f := newFixture(t)
	f.seedAllergy(t, "penicillin", conflict.SeverityCritical)
	f.seedAllergy(t, "pollen", conflict.SeverityLow)
	f.seedMedication(t, "insulin", true)
	f.seedMedication(t, "multivitamin", false)

	f.relRepo.Set(context.Background(), &access.Relationship{
		TenantID: "tenant_a", ActorID: "fam-em", SubjectID: f.subjectID.String(), Permission: access.EmergencyOnly,
	})
	if _, err := f.workflow.RequestAccess(context.Background(), "tenant_a", "fam-em", "family_member", f.subjectID.String(), "unresponsive"); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}

	actor := auth.Principal{ActorID: "fam-em", TenantID: "tenant_a", Roles: []string{auth.RoleFamilyMember}}
	got, err := f.service.GetProfile(context.Background(), actor, f.subjectID, RequestMeta{})
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}

	critical, ok := got.(*CriticalProfile)
	if !ok {
		t.Fatalf("got %T, want *CriticalProfile", got)
	}
	if len(critical.SevereAllergies) != 1 || critical.SevereAllergies[0].Allergen != "penicillin" {
		t.Errorf("SevereAllergies = %+v", critical.SevereAllergies)
	}
	if len(critical.CriticalMeds) != 1 || critical.CriticalMeds[0].Name != "insulin" {
		t.Errorf("CriticalMeds = %+v", critical.CriticalMeds)
	}

	entry := f.auditRepo.last()
	found := false
	for _, fl := range entry.ComplianceFlags {
		if fl == audit.FlagEmergencyAccess {
			found = true
		}
	}
	if !found {
		t.Error("emergency read must carry the emergency compliance flag")
	}
}

func TestOverride_InteractionSucceeds(t *testing.T) {
	f := newFixture(t)
	f.seedMedication(t, "warfarin", false)

	approver := auth.Principal{ActorID: "dr-1", TenantID: "tenant_a", Roles: []string{auth.RoleClinicalAdvisor}}
	res, err := f.service.Override(context.Background(), approver, f.subjectID,
		conflict.Proposed{Medications: []string{"aspirin"}}, "cardiology approved dual therapy", RequestMeta{})
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if !res.Persisted {
		t.Error("override must persist the mutation")
	}
	if len(f.repo.medications[f.subjectID]) != 2 {
		t.Errorf("medications = %d, want 2", len(f.repo.medications[f.subjectID]))
	}

	entry := f.auditRepo.last()
	found := false
	for _, fl := range entry.ComplianceFlags {
		if fl == "override:cardiology approved dual therapy" {
			found = true
		}
	}
	if !found {
		t.Errorf("override flag missing from audit entry: %v", entry.ComplianceFlags)
	}
}

func TestOverride_AllergyBlockRefused(t *testing.T) {
	f := newFixture(t)
	f.seedAllergy(t, "peanuts", conflict.SeverityCritical)

	approver := auth.Principal{ActorID: "dr-1", TenantID: "tenant_a", Roles: []string{auth.RoleClinicalAdvisor}}
	_, err := f.service.Override(context.Background(), approver, f.subjectID,
		conflict.Proposed{Ingredients: []string{"peanut oil"}}, "patient insists", RequestMeta{})
	if !errors.Is(err, ErrNotOverridable) {
		t.Fatalf("err = %v, want ErrNotOverridable", err)
	}
}

func TestOverride_RequiresClinicalRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Override(context.Background(), f.owner, f.subjectID,
		conflict.Proposed{Medications: []string{"aspirin"}}, "self approval", RequestMeta{})
	if !errors.Is(err, access.ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}
}

func TestUpdateProfile_Supersedes(t *testing.T) {
	f := newFixture(t)
	f.seedAllergy(t, "dairy", conflict.SeverityMedium)

	res, err := f.service.UpdateProfile(context.Background(), f.owner, f.subjectID, ProfileUpdate{
		Allergies:    []AllergyInput{{Allergen: "shellfish", Severity: "critical"}},
		Restrictions: []RestrictionInput{{Kind: "vegetarian"}},
	}, RequestMeta{})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if !res.Persisted {
		t.Fatal("profile update should persist")
	}

	profile, err := f.repo.GetProfile(context.Background(), "tenant_a", f.subjectID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	state := profile.State()
	if len(state.Allergies) != 1 || state.Allergies[0] != "shellfish" {
		t.Errorf("current allergies = %v, want [shellfish]", state.Allergies)
	}
	// The dairy row is superseded, not gone.
	if len(profile.Allergies) != 2 {
		t.Errorf("allergy rows = %d, want 2 (history kept)", len(profile.Allergies))
	}
}

func TestFamilyEmergencyOnly_RoutedToWorkflow(t *testing.T) {
	f := newFixture(t)
	f.relRepo.Set(context.Background(), &access.Relationship{
		TenantID: "tenant_a", ActorID: "fam-em", SubjectID: f.subjectID.String(), Permission: access.EmergencyOnly,
	})

	actor := auth.Principal{ActorID: "fam-em", TenantID: "tenant_a", Roles: []string{auth.RoleFamilyMember}}
	_, err := f.service.GetProfile(context.Background(), actor, f.subjectID, RequestMeta{})
	if !errors.Is(err, access.ErrEmergencyRoute) {
		t.Fatalf("err = %v, want ErrEmergencyRoute", err)
	}
}
