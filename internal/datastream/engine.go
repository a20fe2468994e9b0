// Package datastream implements the per-client datastream engine: create,
// open-for-edit, open-for-read, write, read, seek, truncate, extend,
// close, release and set_recovery_path, plus the packing/chunking
// decision and chunk-boundary algorithm that let parallel writers compute
// identical object boundaries without coordination.
//
// Lock order, matching the rest of the core: ctxt.lock < handle.lock <
// dir.lock. A Handle never acquires the Engine's ctxt lock after taking
// its own lock.
package datastream

import (
	"sync"

	"github.com/marfs-core/marfs/internal/dal"
	"github.com/marfs-core/marfs/internal/mdal"
	"github.com/marfs-core/marfs/internal/recordcodec"
	"github.com/marfs-core/marfs/internal/tagging"
	"github.com/marfs-core/marfs/pkg/marfserr"
	"github.com/marfs-core/marfs/pkg/marfslog"
)

// RepoConfig carries the per-repository tuning the engine consults:
// target object size, packing cap, default erasure shape, and reference
// tree shape. This is the expanded config's "Repository" object (see
// SPEC_FULL.md §3).
type RepoConfig struct {
	ObjSize  int64
	ObjFiles int
	Erasure  tagging.Erasure
	RefTree  tagging.RefTreeShape
}

// Engine binds one repository's MDAL/DAL collaborators and config. It
// holds a ctxt-scoped mutex per the documented lock order — acquired only
// around context-duplication operations, never held across a blocking
// MDAL/DAL call.
type Engine struct {
	ctxtMu sync.Mutex

	MD  mdal.MDAL
	DA  dal.DAL
	MC  mdal.Ctxt
	DC  dal.Ctxt

	Repo RepoConfig
	Log  *marfslog.Logger
}

// NewEngine builds an Engine over already-opened MDAL/DAL contexts.
func NewEngine(md mdal.MDAL, mc mdal.Ctxt, da dal.DAL, dc dal.Ctxt, repo RepoConfig, log *marfslog.Logger) *Engine {
	if log == nil {
		log = marfslog.Nop()
	}
	return &Engine{MD: md, DA: da, MC: mc, DC: dc, Repo: repo, Log: log}
}

func (e *Engine) duplicateMDCtxt() (mdal.Ctxt, error) {
	e.ctxtMu.Lock()
	defer e.ctxtMu.Unlock()
	return e.MC.Duplicate()
}

func (e *Engine) duplicateDACtxt() (dal.Ctxt, error) {
	e.ctxtMu.Lock()
	defer e.ctxtMu.Unlock()
	return e.DC.Duplicate()
}

func (e *Engine) recoveryHeaderLen() int {
	return recordcodec.HeaderLen("", "") // overridden per-stream once ctag/streamid are known
}

func checkNotTerminal(h *Handle) error {
	if h.terminal {
		return marfserr.New(marfserr.HandleFatallyBroken, "datastream: handle is in terminal error state; only Release is callable")
	}
	return nil
}

// LocationFor derives a DAL placement from object number. The example
// drivers use a trivial flat namespace; a real deployment would shard by
// objno/poolsize here.
func LocationFor(repo RepoConfig, objNo int64) dal.Location {
	return dal.Location{Pool: "default", Path: "objects"}
}
