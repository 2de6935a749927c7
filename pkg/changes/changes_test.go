package changes_test

import (
	"context"
	"testing"

	"annocore/internal/clientstore"
	"annocore/internal/infra/persistence/memory"
	"annocore/pkg/changes"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

const (
	asm    = "asm1"
	refSeq = "asm1:chr1"
)

func mrna() domain.Feature {
	return domain.Feature{
		ID: "m1", RefSeq: refSeq, Type: domain.TypeMRNA, Min: 100, Max: 900, Strand: domain.StrandPlus,
		Attributes: map[string][]string{"Name": {"abc1"}},
		Children: domain.Children{
			{ID: "e1", RefSeq: refSeq, Type: domain.TypeExon, Min: 100, Max: 400, Strand: domain.StrandPlus},
			{ID: "c1", RefSeq: refSeq, Type: domain.TypeCDS, Min: 150, Max: 800, Strand: domain.StrandPlus},
			{ID: "e2", RefSeq: refSeq, Type: domain.TypeExon, Min: 600, Max: 900, Strand: domain.StrandPlus},
		},
	}
}

func gene(id string, min, max int64) domain.Feature {
	return domain.Feature{ID: id, RefSeq: refSeq, Type: "gene", Min: min, Max: max, Strand: domain.StrandPlus}
}

type fixture struct {
	server *memory.Store
	client *clientstore.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	server := memory.NewStore(nil)
	_, err := server.RunInTransaction(context.Background(), asm, func(tx domain.Transaction) error {
		if err := tx.PutAssembly(domain.Assembly{Name: "hg38"}); err != nil {
			return err
		}
		if err := tx.PutRefSeq(domain.RefSeq{ID: refSeq, Name: "chr1", Length: 10000}); err != nil {
			return err
		}
		if err := tx.Features().Insert("", mrna()); err != nil {
			return err
		}
		return tx.Features().Insert("", gene("g1", 2000, 3000))
	})
	require.NoError(t, err)
	client := clientstore.New()
	snap, err := server.Snapshot(asm)
	require.NoError(t, err)
	require.NoError(t, client.Load(snap))
	return fixture{server: server, client: client}
}

// apply runs c on both sides and requires both to agree on the outcome.
func (f fixture) apply(t *testing.T, c changes.Change) error {
	t.Helper()
	clientErr := c.ApplyToClient(f.client)
	_, serverErr := c.ApplyToServer(context.Background(), f.server)
	require.Equal(t, clientErr == nil, serverErr == nil, "client %v server %v", clientErr, serverErr)
	return serverErr
}

func (f fixture) requireInSync(t *testing.T) {
	t.Helper()
	want, err := f.server.ListFeatures(asm)
	require.NoError(t, err)
	got, err := f.client.Features(asm)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := map[string]changes.Change{
		"location start": changes.NewLocationStartChange(asm, changes.LocationStartItem{FeatureID: "m1", OldStart: 100, NewStart: 90}),
		"location end batch": changes.NewLocationEndChange(asm,
			changes.LocationEndItem{FeatureID: "e2", OldEnd: 900, NewEnd: 950},
			changes.LocationEndItem{FeatureID: "m1", OldEnd: 900, NewEnd: 950}),
		"attributes": changes.NewFeatureAttributeChange(asm, changes.FeatureAttributeItem{
			FeatureID: "m1", OldAttributes: map[string][]string{"Name": {"abc1"}}, NewAttributes: map[string][]string{"Name": {"abc2"}, "Note": {"x", "y"}},
		}),
		"type":   changes.NewTypeChange(asm, changes.TypeItem{FeatureID: "g1", OldType: "gene", NewType: "pseudogene"}),
		"strand": changes.NewStrandChange(asm, changes.StrandItem{FeatureID: "g1", OldStrand: domain.StrandPlus, NewStrand: domain.StrandMinus}),
		"add":    changes.NewAddFeatureChange(asm, changes.AddFeatureItem{AddedFeature: mrna()}),
		"add child batch": changes.NewAddFeatureChange(asm,
			changes.AddFeatureItem{AddedFeature: gene("x1", 10, 20), ParentFeatureID: "g0"},
			changes.AddFeatureItem{AddedFeature: gene("x2", 30, 40), ParentFeatureID: "g0"}),
		"delete": changes.NewDeleteFeatureChange(asm, changes.DeleteFeatureItem{FeatureID: "m1", DeletedFeature: mrna()}),
		"assembly from file": changes.NewAddAssemblyFromFileChange("asm2", "mm10", "f1"),
		"assembly from external": changes.NewAddAssemblyFromExternalChange("asm3", "dm6",
			domain.ExternalLocation{FA: "https://example.org/dm6.fa", FAI: "https://example.org/dm6.fa.fai"},
			[]domain.RefSeqSummary{{Name: "chr2L", Length: 23513712}}),
		"delete assembly": changes.NewDeleteAssemblyChange("asm2"),
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := changes.Encode(c)
			require.NoError(t, err)
			decoded, err := changes.Decode(data)
			require.NoError(t, err)
			require.Equal(t, c, decoded)
			require.Equal(t, c.TypeName(), decoded.TypeName())
			require.Equal(t, c.ChangedIDs(), decoded.ChangedIDs())
		})
	}
}

func TestSingleItemUsesFlatWireForm(t *testing.T) {
	c := changes.NewLocationEndChange(asm, changes.LocationEndItem{FeatureID: "m1", OldEnd: 900, NewEnd: 950})
	data, err := changes.Encode(c)
	require.NoError(t, err)
	require.JSONEq(t, `{"typeName":"LocationEndChange","assembly":"asm1","changedIds":["m1"],"featureId":"m1","oldEnd":900,"newEnd":950}`, string(data))

	batch := changes.NewLocationEndChange(asm,
		changes.LocationEndItem{FeatureID: "e2", OldEnd: 900, NewEnd: 950},
		changes.LocationEndItem{FeatureID: "m1", OldEnd: 900, NewEnd: 950})
	data, err = changes.Encode(batch)
	require.NoError(t, err)
	require.Contains(t, string(data), `"changes":[`)
}

func TestDecodeAcceptsAssemblyIDAlias(t *testing.T) {
	c, err := changes.Decode([]byte(`{"typeName":"TypeChange","assemblyId":"asm1","featureId":"g1","oldType":"gene","newType":"ncRNA_gene"}`))
	require.NoError(t, err)
	require.Equal(t, "asm1", c.AssemblyID())
	require.Equal(t, []string{"g1"}, c.ChangedIDs())
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]struct {
		payload string
		want    error
	}{
		"not json":            {`{"typeName":`, domain.ErrMalformedChange},
		"no type name":        {`{"assembly":"asm1"}`, domain.ErrMalformedChange},
		"no assembly":         {`{"typeName":"TypeChange","featureId":"g1"}`, domain.ErrMalformedChange},
		"unknown type":        {`{"typeName":"SpliceChange","assembly":"asm1"}`, domain.ErrUnknownChangeType},
		"no feature id":       {`{"typeName":"LocationStartChange","assembly":"asm1","oldStart":1,"newStart":2}`, domain.ErrMalformedChange},
		"bad items":           {`{"typeName":"LocationStartChange","assembly":"asm1","changes":{"featureId":"a"}}`, domain.ErrMalformedChange},
		"empty batch":         {`{"typeName":"LocationStartChange","assembly":"asm1","changes":[]}`, domain.ErrMalformedChange},
		"bad strand":          {`{"typeName":"StrandChange","assembly":"asm1","featureId":"g1","oldStrand":1,"newStrand":2}`, domain.ErrMalformedChange},
		"snapshot mismatch":   {`{"typeName":"DeleteFeatureChange","assembly":"asm1","featureId":"g1","deletedFeature":{"_id":"g2","refSeq":"r","type":"gene","min":0,"max":1}}`, domain.ErrMalformedChange},
		"inverted feature":    {`{"typeName":"AddFeatureChange","assembly":"asm1","addedFeature":{"_id":"g9","refSeq":"r","type":"gene","min":5,"max":1}}`, domain.ErrInvalidRange},
		"assembly batch":      {`{"typeName":"AddAssemblyFromFileChange","assembly":"asm2","changes":[{"assemblyName":"a","fileId":"f"},{"assemblyName":"b","fileId":"f"}]}`, domain.ErrMalformedChange},
		"assembly no file":    {`{"typeName":"AddAssemblyFromFileChange","assembly":"asm2","assemblyName":"a"}`, domain.ErrMalformedChange},
		"external no fai":     {`{"typeName":"AddAssemblyFromExternalChange","assembly":"asm2","assemblyName":"a","externalLocation":{"fa":"x"},"refSeqs":[{"name":"c","length":1}]}`, domain.ErrMalformedChange},
		"external no refSeqs": {`{"typeName":"AddAssemblyFromExternalChange","assembly":"asm2","assemblyName":"a","externalLocation":{"fa":"x","fai":"y"}}`, domain.ErrMalformedChange},
		"sequence past end":   {`{"typeName":"AddAssemblyFromExternalChange","assembly":"asm2","assemblyName":"a","externalLocation":{"fa":"x","fai":"y"},"refSeqs":[{"name":"c","length":2,"sequence":[{"start":0,"stop":3,"sequence":"ACG"}]}]}`, domain.ErrMalformedChange},
		"foreign changedIds":  {`{"typeName":"LocationEndChange","assembly":"asm1","changedIds":["other"],"featureId":"g1","oldEnd":3000,"newEnd":3100}`, domain.ErrMalformedChange},
		"short changedIds":    {`{"typeName":"LocationEndChange","assembly":"asm1","changedIds":["g1"],"changes":[{"featureId":"g1","oldEnd":3000,"newEnd":3100},{"featureId":"m1","oldEnd":900,"newEnd":950}]}`, domain.ErrMalformedChange},
		"assembly changedIds": {`{"typeName":"DeleteAssemblyChange","assembly":"asm2","changedIds":["asm1"]}`, domain.ErrMalformedChange},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := changes.Decode([]byte(tc.payload))
			require.Error(t, err)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
	_, err := changes.Encode(nil)
	require.True(t, errors.Is(err, domain.ErrMalformedChange))
}

func TestInverseSwapsValuesAndReversesItems(t *testing.T) {
	c := changes.NewLocationEndChange(asm,
		changes.LocationEndItem{FeatureID: "e2", OldEnd: 900, NewEnd: 950},
		changes.LocationEndItem{FeatureID: "m1", OldEnd: 900, NewEnd: 950})
	inv := c.Inverse().(changes.LocationEndChange)
	require.Equal(t, []string{"m1", "e2"}, inv.ChangedIDs())
	require.Equal(t, changes.LocationEndItem{FeatureID: "m1", OldEnd: 950, NewEnd: 900}, inv.Items[0])
	require.Equal(t, c, inv.Inverse())

	add := changes.NewAddFeatureChange(asm, changes.AddFeatureItem{AddedFeature: gene("x1", 10, 20)})
	del, ok := add.Inverse().(changes.DeleteFeatureChange)
	require.True(t, ok)
	require.Equal(t, "x1", del.Items[0].FeatureID)
	readd, ok := del.Inverse().(changes.AddFeatureChange)
	require.True(t, ok)
	require.Equal(t, add.Header, readd.Header)
	require.Equal(t, add.Items[0].AddedFeature, readd.Items[0].AddedFeature)
	require.True(t, readd.Items[0].Restore)

	require.Equal(t, changes.KindFeature, add.Kind())
	require.Equal(t, changes.KindAssembly, changes.NewDeleteAssemblyChange(asm).Kind())
}

func TestApplyThenInverseRestoresState(t *testing.T) {
	cases := map[string]changes.Change{
		"location start": changes.NewLocationStartChange(asm, changes.LocationStartItem{FeatureID: "g1", OldStart: 2000, NewStart: 1500}),
		"location end batch": changes.NewLocationEndChange(asm,
			changes.LocationEndItem{FeatureID: "m1", OldEnd: 900, NewEnd: 950},
			changes.LocationEndItem{FeatureID: "e2", OldEnd: 900, NewEnd: 950}),
		"attributes": changes.NewFeatureAttributeChange(asm, changes.FeatureAttributeItem{
			FeatureID: "m1", OldAttributes: map[string][]string{"Name": {"abc1"}}, NewAttributes: map[string][]string{"Name": {"abc2"}},
		}),
		"type":   changes.NewTypeChange(asm, changes.TypeItem{FeatureID: "g1", OldType: "gene", NewType: "pseudogene"}),
		"strand": changes.NewStrandChange(asm, changes.StrandItem{FeatureID: "g1", OldStrand: domain.StrandPlus, NewStrand: domain.StrandMinus}),
		"add child": changes.NewAddFeatureChange(asm, changes.AddFeatureItem{
			AddedFeature: domain.Feature{ID: "e3", RefSeq: refSeq, Type: domain.TypeExon, Min: 450, Max: 500, Strand: domain.StrandPlus}, ParentFeatureID: "m1",
		}),
		"delete subtree": changes.NewDeleteFeatureChange(asm, changes.DeleteFeatureItem{FeatureID: "m1", DeletedFeature: mrna()}),
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			before, err := f.server.ListFeatures(asm)
			require.NoError(t, err)

			require.NoError(t, f.apply(t, c))
			f.requireInSync(t)
			after, err := f.server.ListFeatures(asm)
			require.NoError(t, err)
			require.NotEqual(t, before, after)

			require.NoError(t, f.apply(t, c.Inverse()))
			f.requireInSync(t)
			restored, err := f.server.ListFeatures(asm)
			require.NoError(t, err)
			require.Equal(t, before, restored)
		})
	}
}

func TestStaleChangeIsRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	c := changes.NewLocationEndChange(asm, changes.LocationEndItem{FeatureID: "m1", OldEnd: 901, NewEnd: 950})
	err := f.apply(t, c)
	require.True(t, errors.Is(err, domain.ErrStaleChange))
	require.Equal(t, domain.ReasonStaleChange, domain.ReasonOf(err))
	f.requireInSync(t)
	require.Empty(t, f.server.ChangeLog(asm))
}

func TestBatchIsAtomic(t *testing.T) {
	f := newFixture(t)
	before, err := f.server.ListFeatures(asm)
	require.NoError(t, err)
	c := changes.NewLocationStartChange(asm,
		changes.LocationStartItem{FeatureID: "g1", OldStart: 2000, NewStart: 1900},
		changes.LocationStartItem{FeatureID: "m1", OldStart: 99, NewStart: 50},
		changes.LocationStartItem{FeatureID: "c1", OldStart: 150, NewStart: 140},
	)
	err = f.apply(t, c)
	var stale *domain.StaleChangeError
	require.True(t, errors.As(err, &stale))
	require.Equal(t, 1, stale.Index)
	require.Equal(t, "m1", stale.FeatureID)

	after, err := f.server.ListFeatures(asm)
	require.NoError(t, err)
	require.Equal(t, before, after)
	f.requireInSync(t)

	tree, err := f.client.Tree(asm)
	require.NoError(t, err)
	g1, _ := tree.Lookup("g1")
	require.EqualValues(t, 2000, g1.Min)
	c1, _ := tree.Lookup("c1")
	require.EqualValues(t, 150, c1.Min)
	require.Empty(t, f.server.ChangeLog(asm))
}

func TestValidateRejectsIncompleteChanges(t *testing.T) {
	cases := map[string]changes.Change{
		"no items":        changes.NewLocationStartChange(asm),
		"no assembly":     changes.NewTypeChange("", changes.TypeItem{FeatureID: "g1", OldType: "gene", NewType: "x"}),
		"empty delete":    changes.NewDeleteFeatureChange(asm),
		"changed ids off": changes.LocationEndChange{Header: changes.Header{Assembly: asm, Changed: []string{"m1"}}, Items: []changes.LocationEndItem{{FeatureID: "g1", OldEnd: 3000, NewEnd: 3100}}},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			require.True(t, errors.Is(c.Validate(), domain.ErrMalformedChange))
		})
	}
	require.NoError(t, changes.NewLocationStartChange(asm, changes.LocationStartItem{FeatureID: "g1", OldStart: 2000, NewStart: 1900}).Validate())
	require.NoError(t, changes.NewDeleteAssemblyChange(asm).Validate())
}

func TestDeleteOfChildOutsideParentIsReversible(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.apply(t, changes.NewLocationStartChange(asm, changes.LocationStartItem{FeatureID: "m1", OldStart: 100, NewStart: 200})))

	tree, err := f.client.Tree(asm)
	require.NoError(t, err)
	e1, ok := tree.FindByID("e1")
	require.True(t, ok)
	before, err := f.server.ListFeatures(asm)
	require.NoError(t, err)

	del := changes.NewDeleteFeatureChange(asm, changes.DeleteFeatureItem{FeatureID: "e1", ParentFeatureID: "m1", DeletedFeature: e1})
	require.NoError(t, f.apply(t, del))
	require.NoError(t, f.apply(t, del.Inverse()))
	f.requireInSync(t)

	restored, err := f.server.ListFeatures(asm)
	require.NoError(t, err)
	require.Equal(t, before, restored)

	plain := changes.NewAddFeatureChange(asm, changes.AddFeatureItem{
		AddedFeature: domain.Feature{ID: "e9", RefSeq: refSeq, Type: domain.TypeExon, Min: 110, Max: 120, Strand: domain.StrandPlus}, ParentFeatureID: "m1",
	})
	require.True(t, errors.Is(f.apply(t, plain), domain.ErrParentCoordinateViolation))
}

func TestMissingFeatureAndAssembly(t *testing.T) {
	f := newFixture(t)
	err := f.apply(t, changes.NewTypeChange(asm, changes.TypeItem{FeatureID: "nope", OldType: "gene", NewType: "x"}))
	require.True(t, errors.Is(err, domain.ErrFeatureNotFound))

	missing := changes.NewTypeChange("asm9", changes.TypeItem{FeatureID: "g1", OldType: "gene", NewType: "x"})
	require.True(t, errors.Is(missing.ApplyToClient(f.client), domain.ErrAssemblyNotFound))
	_, err = missing.ApplyToServer(context.Background(), f.server)
	require.True(t, errors.Is(err, domain.ErrAssemblyNotFound))
}

func TestAddFeatureValidation(t *testing.T) {
	f := newFixture(t)

	outside := changes.NewAddFeatureChange(asm, changes.AddFeatureItem{
		AddedFeature: domain.Feature{ID: "e9", RefSeq: refSeq, Type: domain.TypeExon, Min: 850, Max: 950}, ParentFeatureID: "m1",
	})
	require.True(t, errors.Is(f.apply(t, outside), domain.ErrParentCoordinateViolation))

	dup := changes.NewAddFeatureChange(asm, changes.AddFeatureItem{AddedFeature: gene("e1", 0, 10)})
	require.True(t, errors.Is(f.apply(t, dup), domain.ErrDuplicateFeature))

	noRefSeq := changes.NewAddFeatureChange(asm, changes.AddFeatureItem{
		AddedFeature: domain.Feature{ID: "z1", RefSeq: "asm1:chrZ", Type: "gene", Min: 0, Max: 10},
	})
	require.True(t, errors.Is(f.apply(t, noRefSeq), domain.ErrRefSeqNotFound))

	noParent := changes.NewAddFeatureChange(asm, changes.AddFeatureItem{AddedFeature: gene("z2", 0, 10), ParentFeatureID: "ghost"})
	require.True(t, errors.Is(f.apply(t, noParent), domain.ErrFeatureNotFound))
	f.requireInSync(t)
}

func TestDeleteRequiresMatchingSnapshot(t *testing.T) {
	f := newFixture(t)
	stale := mrna()
	stale.Max = 850
	err := f.apply(t, changes.NewDeleteFeatureChange(asm, changes.DeleteFeatureItem{FeatureID: "m1", DeletedFeature: stale}))
	require.True(t, errors.Is(err, domain.ErrStaleChange))

	wrongParent := changes.NewDeleteFeatureChange(asm, changes.DeleteFeatureItem{
		FeatureID: "e1", ParentFeatureID: "g1", DeletedFeature: mrna().Children[0],
	})
	require.True(t, errors.Is(f.apply(t, wrongParent), domain.ErrStaleChange))

	child := changes.NewDeleteFeatureChange(asm, changes.DeleteFeatureItem{
		FeatureID: "e1", ParentFeatureID: "m1", DeletedFeature: mrna().Children[0],
	})
	require.NoError(t, f.apply(t, child))
	_, _, ok := f.server.FindFeatureByID("e1")
	require.False(t, ok)
	f.requireInSync(t)
}

func TestServerRecordsChangeLog(t *testing.T) {
	f := newFixture(t)
	c := changes.NewTypeChange(asm, changes.TypeItem{FeatureID: "g1", OldType: "gene", NewType: "pseudogene"})
	require.NoError(t, f.apply(t, c))
	log := f.server.ChangeLog(asm)
	require.Len(t, log, 1)
	require.Equal(t, changes.TypeType, log[0].TypeName)
	replayed, err := changes.Decode(log[0].Payload)
	require.NoError(t, err)
	require.Equal(t, c, replayed)
}

func TestAddAssemblyFromFile(t *testing.T) {
	server := memory.NewStore(nil)
	ctx := context.Background()
	c := changes.NewAddAssemblyFromFileChange("asm2", "mm10", "f1")
	_, err := c.ApplyToServer(ctx, server)
	require.True(t, errors.Is(err, domain.ErrFileNotFound))

	require.NoError(t, server.PutFile(domain.File{ID: "f1", Name: "mm10.fa", RefSeqs: []domain.RefSeqSummary{{Name: "chr1", Length: 1000}, {Name: "chr2", Length: 500}}}))
	require.NoError(t, c.ApplyToClient(clientstore.New()))
	_, err = c.ApplyToServer(ctx, server)
	require.NoError(t, err)
	require.Equal(t, `Assembly "mm10" added successfully.`, c.Notification())

	snap, err := server.Snapshot("asm2")
	require.NoError(t, err)
	require.Equal(t, "mm10", snap.Assembly.Name)
	require.Equal(t, "f1", snap.Assembly.FileID)
	require.Len(t, snap.RefSeqs, 2)
	require.Equal(t, "asm2:chr1", snap.RefSeqs[0].ID)

	clash := changes.NewAddAssemblyFromFileChange("asm3", "mm10", "f1")
	_, err = clash.ApplyToServer(ctx, server)
	require.True(t, errors.Is(err, domain.ErrAssemblyAlreadyExists))
	_, err = c.ApplyToServer(ctx, server)
	require.True(t, errors.Is(err, domain.ErrAssemblyAlreadyExists))
}

func TestAddAndDeleteExternalAssembly(t *testing.T) {
	server := memory.NewStore(nil)
	ctx := context.Background()
	add := changes.NewAddAssemblyFromExternalChange("asm3", "dm6",
		domain.ExternalLocation{FA: "https://example.org/dm6.fa", FAI: "https://example.org/dm6.fa.fai"},
		[]domain.RefSeqSummary{{Name: "chr2L", Length: 23513712}})
	_, err := add.ApplyToServer(ctx, server)
	require.NoError(t, err)
	got, ok := server.GetAssembly("asm3")
	require.True(t, ok)
	require.Equal(t, "https://example.org/dm6.fa", got.ExternalLocation.FA)

	del, ok := add.Inverse().(changes.DeleteAssemblyChange)
	require.True(t, ok)
	_, err = del.ApplyToServer(ctx, server)
	require.NoError(t, err)
	_, ok = server.GetAssembly("asm3")
	require.False(t, ok)
	_, err = del.ApplyToServer(ctx, server)
	require.True(t, errors.Is(err, domain.ErrAssemblyNotFound))

	// the name is free again once the assembly is gone
	_, err = add.ApplyToServer(ctx, server)
	require.NoError(t, err)
	require.Len(t, server.ChangeLog("asm3"), 3)
}

func TestExternalAssemblyStoresSuppliedSequence(t *testing.T) {
	server := memory.NewStore(nil)
	add := changes.NewAddAssemblyFromExternalChange("asm4", "tiny",
		domain.ExternalLocation{FA: "tiny.fa", FAI: "tiny.fa.fai"},
		[]domain.RefSeqSummary{
			{Name: "chr1", Length: 8, Sequence: []domain.SequenceBlock{{Start: 0, Stop: 8, Sequence: "ATGAAATA"}}},
			{Name: "chr2", Length: 100},
		})
	require.NoError(t, add.Validate())
	_, err := add.ApplyToServer(context.Background(), server)
	require.NoError(t, err)

	snap, err := server.Snapshot("asm4")
	require.NoError(t, err)
	require.Len(t, snap.RefSeqs, 2)
	view := domain.NewAssemblyView(snap.Assembly, snap.RefSeqs, domain.NewTree())
	require.Equal(t, "AAAT", view.Sequence("asm4:chr1", 3, 7))
	require.Equal(t, "", view.Sequence("asm4:chr2", 0, 4))
}

func TestStateTerminal(t *testing.T) {
	require.False(t, changes.StateConstructed.Terminal())
	require.False(t, changes.StateValidating.Terminal())
	require.True(t, changes.StateApplied.Terminal())
	require.True(t, changes.StateRejected.Terminal())
}
