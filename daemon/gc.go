package daemon

import (
	"context"
	"sort"

	"github.com/containerd/log"
	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/object"
	"github.com/convergeio/converge/repo"
	"github.com/docker/go-metrics"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
)

// GCOptions control one garbage-collection run. DryRun reports what
// would happen without deleting; PruneMetadata extends the sweep from
// unreachable objects to snaps, bundles and releases. KeepLast, when
// set, first prunes release history to the N newest per channel.
type GCOptions struct {
	DryRun        bool
	PruneMetadata bool
	KeepLast      *int
}

// GCKept counts what a run retained. Publications appear only here;
// their records live in the aggregate, not as files.
type GCKept struct {
	Bundles      int `json:"bundles"`
	Releases     int `json:"releases"`
	Publications int `json:"publications"`
	Snaps        int `json:"snaps"`
	Blobs        int `json:"blobs"`
	Manifests    int `json:"manifests"`
	Recipes      int `json:"recipes"`
}

// GCDeleted counts removed files per category.
type GCDeleted struct {
	Bundles   int `json:"bundles"`
	Releases  int `json:"releases"`
	Snaps     int `json:"snaps"`
	Blobs     int `json:"blobs"`
	Manifests int `json:"manifests"`
	Recipes   int `json:"recipes"`
}

// GCPruned reports history pruning done before the sweep.
type GCPruned struct {
	ReleasesKeepLast int `json:"releases_keep_last"`
}

// GCReport is the outcome of one GC run.
type GCReport struct {
	DryRun        bool      `json:"dry_run"`
	PruneMetadata bool      `json:"prune_metadata"`
	Pruned        GCPruned  `json:"pruned"`
	Kept          GCKept    `json:"kept"`
	Deleted       GCDeleted `json:"deleted"`
}

// CollectGarbage computes the live set from the retention roots (pinned
// bundles, releases, promotion-state pointers, lane heads) and sweeps
// everything else. Dry runs take the read lock and leave both disk and
// memory untouched; the report is computed the same way in both modes.
func (d *Daemon) CollectGarbage(ctx context.Context, subject identity.Subject, repoID string, opts GCOptions) (GCReport, error) {
	defer metrics.StartTimer(repoActions.WithValues("gc"))()
	var report GCReport
	run := func(r *repo.Repo) error {
		if !repo.CanPublish(r, subject) {
			return errForbidden
		}
		if !opts.PruneMetadata && !opts.DryRun {
			return errdefs.InvalidParameter(errors.New("refusing destructive GC with prune_metadata=false (would create dangling references); use dry_run=true or prune_metadata=true"))
		}
		rep, err := d.collectGarbage(ctx, r, repoID, opts)
		if err != nil {
			return err
		}
		report = rep
		return nil
	}
	var err error
	if opts.DryRun {
		err = d.repos.View(repoID, run)
	} else {
		err = d.repos.Update(repoID, run)
	}
	if err != nil {
		return GCReport{}, err
	}
	return report, nil
}

func (d *Daemon) collectGarbage(ctx context.Context, r *repo.Repo, repoID string, opts GCOptions) (GCReport, error) {
	report := GCReport{DryRun: opts.DryRun, PruneMetadata: opts.PruneMetadata}

	// Release history pruning feeds the retention roots. The pruned
	// list replaces r.Releases only on destructive runs.
	releases := append([]repo.Release(nil), r.Releases...)
	if opts.KeepLast != nil {
		keepLast := *opts.KeepLast
		if keepLast < 1 {
			return GCReport{}, errdefs.InvalidParameter(errors.New("prune_releases_keep_last must be >= 1"))
		}
		byChannel := map[string][]repo.Release{}
		for _, rel := range releases {
			byChannel[rel.Channel] = append(byChannel[rel.Channel], rel)
		}
		kept := []repo.Release{}
		for _, rs := range byChannel {
			sort.SliceStable(rs, func(i, j int) bool { return rs[i].ReleasedAt > rs[j].ReleasedAt })
			if len(rs) > keepLast {
				rs = rs[:keepLast]
			}
			kept = append(kept, rs...)
		}
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].ReleasedAt > kept[j].ReleasedAt })
		report.Pruned.ReleasesKeepLast = len(releases) - len(kept)
		releases = kept
	}

	// Retention roots: pinned bundles, released bundles, and current
	// promotion-state pointers.
	keepBundles := map[string]struct{}{}
	for _, bid := range r.PinnedBundles.Sorted() {
		keepBundles[bid] = struct{}{}
	}
	for _, rel := range releases {
		keepBundles[rel.BundleID] = struct{}{}
	}
	for _, perScope := range r.PromotionState {
		for _, bid := range perScope {
			keepBundles[bid] = struct{}{}
		}
	}

	keepPublications := map[string]struct{}{}
	live := object.NewReachableSet()
	for _, bid := range sortedKeys(keepBundles) {
		bundle, err := d.loadBundle(r, repoID, bid)
		if err != nil {
			return GCReport{}, err
		}
		if err := d.objects.CollectReachable(repoID, bundle.RootManifest, live); err != nil {
			return GCReport{}, err
		}
		for _, pid := range bundle.InputPublications {
			keepPublications[pid] = struct{}{}
		}
	}

	keepSnaps := map[string]struct{}{}
	for _, p := range r.Publications {
		if _, ok := keepPublications[p.ID]; ok {
			keepSnaps[p.SnapID] = struct{}{}
		}
	}
	for _, lane := range r.Lanes {
		for _, h := range lane.Heads {
			keepSnaps[h.SnapID] = struct{}{}
		}
		for _, hist := range lane.HeadHistory {
			for _, h := range hist {
				keepSnaps[h.SnapID] = struct{}{}
			}
		}
	}
	for _, sid := range sortedKeys(keepSnaps) {
		snap, err := d.objects.ReadSnap(repoID, sid)
		if err != nil {
			// A lane head may point at a snap that was never
			// uploaded; it retains nothing.
			if errdefs.IsInvalidParameter(err) {
				continue
			}
			return GCReport{}, err
		}
		if err := d.objects.CollectReachable(repoID, snap.RootManifest, live); err != nil {
			return GCReport{}, err
		}
	}

	var reclaimed int64
	blobSweep, err := d.objects.Sweep(repoID, object.KindBlob, live.Blobs, opts.DryRun)
	if err != nil {
		return GCReport{}, err
	}
	manifestSweep, err := d.objects.Sweep(repoID, object.KindManifest, live.Manifests, opts.DryRun)
	if err != nil {
		return GCReport{}, err
	}
	recipeSweep, err := d.objects.Sweep(repoID, object.KindRecipe, live.Recipes, opts.DryRun)
	if err != nil {
		return GCReport{}, err
	}
	reclaimed += blobSweep.Reclaimed + manifestSweep.Reclaimed + recipeSweep.Reclaimed

	var snapSweep, bundleSweep, releaseSweep object.SweepResult
	if opts.PruneMetadata {
		if snapSweep, err = d.objects.Sweep(repoID, object.KindSnap, keepSnaps, opts.DryRun); err != nil {
			return GCReport{}, err
		}
		if bundleSweep, err = d.repos.SweepSidecars(repoID, "bundles", keepBundles, opts.DryRun); err != nil {
			return GCReport{}, err
		}
		keepReleaseIDs := map[string]struct{}{}
		for _, rel := range releases {
			if _, ok := keepBundles[rel.BundleID]; ok {
				keepReleaseIDs[rel.ID] = struct{}{}
			}
		}
		if releaseSweep, err = d.repos.SweepSidecars(repoID, "releases", keepReleaseIDs, opts.DryRun); err != nil {
			return GCReport{}, err
		}
		reclaimed += snapSweep.Reclaimed + bundleSweep.Reclaimed + releaseSweep.Reclaimed
	}

	if opts.PruneMetadata && !opts.DryRun {
		bundles := r.Bundles[:0]
		for _, b := range r.Bundles {
			if _, ok := keepBundles[b.ID]; ok {
				bundles = append(bundles, b)
			}
		}
		r.Bundles = bundles
		for _, bid := range r.PinnedBundles.Sorted() {
			if _, ok := keepBundles[bid]; !ok {
				r.PinnedBundles.Remove(bid)
			}
		}
		retained := []repo.Release{}
		for _, rel := range releases {
			if _, ok := keepBundles[rel.BundleID]; ok {
				retained = append(retained, rel)
			}
		}
		r.Releases = retained
		pubs := r.Publications[:0]
		for _, p := range r.Publications {
			if _, ok := keepPublications[p.ID]; ok {
				pubs = append(pubs, p)
			}
		}
		r.Publications = pubs
		r.Snaps = repo.NewStringSet(sortedKeys(keepSnaps)...)
	}

	report.Kept = GCKept{
		Bundles:      len(keepBundles),
		Releases:     releaseSweep.Kept,
		Publications: len(keepPublications),
		Snaps:        len(keepSnaps),
		Blobs:        blobSweep.Kept,
		Manifests:    manifestSweep.Kept,
		Recipes:      recipeSweep.Kept,
	}
	report.Deleted = GCDeleted{
		Bundles:   bundleSweep.Deleted,
		Releases:  releaseSweep.Deleted,
		Snaps:     snapSweep.Deleted,
		Blobs:     blobSweep.Deleted,
		Manifests: manifestSweep.Deleted,
		Recipes:   recipeSweep.Deleted,
	}

	if !opts.DryRun {
		gcReclaimed.Inc(float64(reclaimed))
	}
	log.G(ctx).WithFields(log.Fields{
		"repo":      repoID,
		"dry_run":   opts.DryRun,
		"deleted":   report.Deleted.Blobs + report.Deleted.Manifests + report.Deleted.Recipes + report.Deleted.Snaps + report.Deleted.Bundles + report.Deleted.Releases,
		"reclaimed": units.HumanSize(float64(reclaimed)),
	}).Info("garbage collection finished")

	return report, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
