package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"fieldconfig-backend/internal/fieldconfig"
	"fieldconfig-backend/internal/template"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeGateway is an in-memory config service.
type fakeGateway struct {
	mu       sync.Mutex
	remote   fieldconfig.Sequence
	raw      []byte
	fetchErr error
	saveErr  error
	syncErr  error
	synced   fieldconfig.Sequence
	fetches  int
	saves    []fieldconfig.Sequence
}

func (g *fakeGateway) FetchConfig(context.Context) (fieldconfig.Sequence, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.remote.Clone(), nil
}

func (g *fakeGateway) SaveConfig(_ context.Context, seq fieldconfig.Sequence) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saveErr != nil {
		return "", g.saveErr
	}
	g.saves = append(g.saves, seq.Clone())
	// the remote normalizes labels, so the echo differs from what was sent
	g.remote = seq.Clone()
	for i := range g.remote {
		g.remote[i].Label = strings.TrimSpace(g.remote[i].Label)
	}
	return "Configuration saved", nil
}

func (g *fakeGateway) SyncRemoteMetadata(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.syncErr != nil {
		return "", g.syncErr
	}
	g.remote = g.synced.Clone()
	return "Successfully synced 1 new fields.", nil
}

func (g *fakeGateway) FetchRawSchema(context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.raw == nil {
		return nil, errors.New("no schema")
	}
	return g.raw, nil
}

func remoteSeq() fieldconfig.Sequence {
	return fieldconfig.Sequence{
		{Key: "itemXid", Label: "Item XID", ValueType: fieldconfig.Scalar},
		{Key: "invoiceDate", Label: "Invoice Date", ValueType: fieldconfig.Scalar, Display: true},
		{Key: "PaymentMethod", Label: "Method", ValueType: fieldconfig.Scalar},
	}
}

func openSession(t *testing.T, gw *fakeGateway) *Session {
	t.Helper()
	s := New("test", gw, Options{NoticeTTL: time.Minute})
	s.Open(context.Background())
	return s
}

func TestOpen_LoadsConfigAndSchema(t *testing.T) {
	gw := &fakeGateway{remote: remoteSeq(), raw: []byte(`{"definitions":{"Invoice":{"properties":{"a":{}}}}}`)}
	s := openSession(t, gw)

	assert.Equal(t, []string{"itemXid", "invoiceDate", "PaymentMethod"}, s.Fields("").Keys())
	assert.False(t, s.Dirty())
	info, ok := s.SchemaInfo()
	require.True(t, ok)
	assert.Equal(t, "Invoice", info.Schema)
	require.Len(t, s.Templates(), 1)
}

func TestOpen_FetchFailureLeavesEmptyUsableSession(t *testing.T) {
	gw := &fakeGateway{fetchErr: errors.New("boom")}
	s := openSession(t, gw)

	assert.Empty(t, s.Fields(""))
	notices := s.Notices().Active()
	require.NotEmpty(t, notices)
	assert.Equal(t, LevelError, notices[0].Level)
}

func TestSave_RefreshesSlotZeroFromRemoteEcho(t *testing.T) {
	gw := &fakeGateway{remote: remoteSeq()}
	s := openSession(t, gw)

	require.True(t, s.UpdateField("invoiceDate", fieldconfig.AttrLabel, "  Date  "))
	assert.True(t, s.Dirty())

	_, err := s.Save(context.Background())
	require.NoError(t, err)

	d, _ := s.Field("invoiceDate")
	assert.Equal(t, "Date", d.Label, "active sequence comes from the echo")
	e, err := s.library.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, "Date", e.Data[1].Label)
	assert.False(t, s.Dirty())
	assert.Equal(t, 2, gw.fetches)
}

func TestSave_FailureKeepsLocalState(t *testing.T) {
	gw := &fakeGateway{remote: remoteSeq()}
	s := openSession(t, gw)
	s.UpdateField("invoiceDate", fieldconfig.AttrLabel, "Edited")
	gw.saveErr = errors.New("down")

	_, err := s.Save(context.Background())
	require.Error(t, err)
	d, _ := s.Field("invoiceDate")
	assert.Equal(t, "Edited", d.Label)
	assert.True(t, s.Dirty())
}

func TestSync_RefusesDirtyStateUnlessForced(t *testing.T) {
	gw := &fakeGateway{remote: remoteSeq(), synced: append(remoteSeq(), fieldconfig.Descriptor{Key: "newField"})}
	s := openSession(t, gw)
	s.ToggleField("invoiceDate", fieldconfig.AttrMandatory)

	_, err := s.Sync(context.Background(), false)
	require.ErrorIs(t, err, ErrUnsavedChanges)
	d, _ := s.Field("invoiceDate")
	assert.True(t, d.Mandatory, "refused sync leaves edits in place")

	msg, err := s.Sync(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "Successfully synced 1 new fields.", msg)
	assert.Equal(t, []string{"itemXid", "invoiceDate", "PaymentMethod", "newField"}, s.Fields("").Keys())
	d, _ = s.Field("invoiceDate")
	assert.False(t, d.Mandatory, "full replace discards the edit")
	assert.False(t, s.Dirty())
}

func TestReload_CleanSessionNeedsNoForce(t *testing.T) {
	gw := &fakeGateway{remote: remoteSeq()}
	s := openSession(t, gw)
	gw.remote = gw.remote[:1]

	require.NoError(t, s.Reload(context.Background(), false))
	assert.Equal(t, []string{"itemXid"}, s.Fields("").Keys())
}

func TestUploadAndSelectTemplates(t *testing.T) {
	gw := &fakeGateway{remote: remoteSeq()}
	s := openSession(t, gw)

	idx, err := s.UploadTemplate("mine.json", strings.NewReader(`[{"key":"custom","label":"Custom"}]`), template.LocalUpload{})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, []string{"custom"}, s.Fields("").Keys())
	assert.True(t, s.Dirty())

	require.NoError(t, s.SelectTemplate(0))
	assert.Equal(t, []string{"itemXid", "invoiceDate", "PaymentMethod"}, s.Fields("").Keys())
	assert.False(t, s.Dirty())

	assert.ErrorIs(t, s.SelectTemplate(9), template.ErrIndexOutOfRange)

	// a failed upload changes nothing
	_, err = s.UploadTemplate("bad.json", strings.NewReader(`not json`), template.LocalUpload{})
	require.ErrorIs(t, err, template.ErrInvalidUpload)
	assert.Len(t, s.Templates(), 2)

	// reload keeps uploaded entries and reselects slot 0
	require.NoError(t, s.Reload(context.Background(), false))
	tpls := s.Templates()
	require.Len(t, tpls, 2)
	assert.True(t, tpls[0].Selected)
	assert.Equal(t, "mine.json", tpls[1].Name)
}

func TestNormalizeSchema_InstallsUpload(t *testing.T) {
	gw := &fakeGateway{
		remote: remoteSeq(),
		raw:    []byte(`{"components":{"schemas":{"Invoice":{"properties":{"invoiceXid":{"type":"string"},"lineItems":{"type":"array","items":{}}}}}}}`),
	}
	s := openSession(t, gw)

	idx, res, err := s.NormalizeSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "Invoice", res.Schema)
	assert.Equal(t, []string{"invoiceXid", "lineItems"}, s.Fields("").Keys())
	assert.Equal(t, "Invoice", s.Templates()[1].Name)
}

func TestPendingChanges(t *testing.T) {
	gw := &fakeGateway{remote: remoteSeq()}
	s := openSession(t, gw)
	assert.Empty(t, s.PendingChanges())

	s.UpdateField("invoiceDate", fieldconfig.AttrLabel, "Date")
	changes := s.PendingChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, "invoiceDate", changes[0].Key)
	assert.Equal(t, fieldconfig.ChangeModified, changes[0].Kind)

	// reverting the edit clears the dirty flag
	s.UpdateField("invoiceDate", fieldconfig.AttrLabel, "Invoice Date")
	assert.False(t, s.Dirty())
}

func TestForm_ShowsDisplayedFieldsGrouped(t *testing.T) {
	gw := &fakeGateway{remote: remoteSeq()}
	s := openSession(t, gw)

	form := s.Form()
	require.Len(t, form.Groups, 2)
	assert.Equal(t, "Item", form.Groups[0].Name)
	assert.Equal(t, "Invoice", form.Groups[1].Name)
	assert.True(t, form.Groups[0].Expanded)

	all := s.Groups()
	require.Len(t, all.Groups, 3)
	assert.Equal(t, "Payment", all.Groups[2].Name)

	assert.False(t, s.ToggleGroup("Invoice"))
	assert.False(t, s.Form().Groups[1].Expanded)

	// label edits keep the same groups, so expand state survives
	s.UpdateField("invoiceDate", fieldconfig.AttrLabel, "Date")
	assert.False(t, s.Form().Groups[1].Expanded)

	s.SetAllGroups(true)
	assert.True(t, s.Form().Groups[1].Expanded)
}

func TestGroups_ExpandStateResetsOnReplace(t *testing.T) {
	gw := &fakeGateway{remote: remoteSeq()}
	s := openSession(t, gw)
	allExpanded := func() {
		t.Helper()
		for _, g := range s.Groups().Groups {
			assert.True(t, g.Expanded, g.Name)
		}
	}

	// a template with the same group names still starts fully expanded
	s.SetAllGroups(false)
	_, err := s.UploadTemplate("same-groups.json", strings.NewReader(
		`[{"key":"itemName","label":"Name"},{"key":"invoiceTotal","label":"Total"},{"key":"PaymentTerms","label":"Terms"}]`),
		template.LocalUpload{})
	require.NoError(t, err)
	require.Equal(t, []string{"Item", "Invoice", "Payment"}, groupNames(s.Groups()))
	allExpanded()

	s.SetAllGroups(false)
	require.NoError(t, s.SelectTemplate(0))
	allExpanded()

	s.SetAllGroups(false)
	require.NoError(t, s.Reload(context.Background(), true))
	allExpanded()
}

func groupNames(v FormView) []string {
	names := make([]string, 0, len(v.Groups))
	for _, g := range v.Groups {
		names = append(names, g.Name)
	}
	return names
}

// blockingGateway hands every FetchConfig call to the test, which decides
// when and with what it completes.
type blockingGateway struct {
	fakeGateway
	calls chan chan fieldconfig.Sequence
}

func (g *blockingGateway) FetchConfig(ctx context.Context) (fieldconfig.Sequence, error) {
	reply := make(chan fieldconfig.Sequence)
	select {
	case g.calls <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case seq := <-reply:
		return seq, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestReload_LastCompletedResponseWins(t *testing.T) {
	gw := &blockingGateway{calls: make(chan chan fieldconfig.Sequence)}
	s := New("test", gw, Options{NoticeTTL: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	reload := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Reload(ctx, true))
		}()
	}

	reload()
	first := <-gw.calls
	reload()
	second := <-gw.calls

	// the later request answers first
	second <- fieldconfig.Sequence{{Key: "second", Label: "Second"}}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"second"}, s.Fields("").Keys())
	}, time.Second, 5*time.Millisecond)

	first <- fieldconfig.Sequence{{Key: "first", Label: "First"}}
	wg.Wait()

	assert.Equal(t, []string{"first"}, s.Fields("").Keys())
	s.mu.Lock()
	slotZero := s.library.SlotZero()
	s.mu.Unlock()
	assert.Equal(t, []string{"first"}, slotZero.Keys())
	assert.False(t, s.Dirty())
}

func TestExport(t *testing.T) {
	gw := &fakeGateway{remote: remoteSeq()}
	s := openSession(t, gw)

	var buf bytes.Buffer
	require.NoError(t, s.Export(&buf, template.FormatJSON))
	assert.Contains(t, buf.String(), `"key": "invoiceDate"`)
}

func TestNotices_Expire(t *testing.T) {
	now := time.Unix(100, 0)
	n := NewNotices(3*time.Second, func() time.Time { return now })
	first := n.Add(LevelSuccess, "saved")
	now = now.Add(2 * time.Second)
	n.Add(LevelError, "failed")
	require.Len(t, n.Active(), 2)

	now = now.Add(2 * time.Second)
	active := n.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "failed", active[0].Message)
	assert.False(t, n.Dismiss(first.ID))
	assert.True(t, n.Dismiss(active[0].ID))
	assert.Empty(t, n.Active())
}
