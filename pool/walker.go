// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pool implements the pool walker: parsing labels, enumerating
// uberblocks, selecting the highest-TXG reachable one, and descending the
// MOS -> dataset directory -> head dataset object set -> master node ->
// root directory -> named file path described by the design.
package pool // import "github.com/Error1000/szfs/pool"

import (
	"fmt"

	"github.com/Error1000/szfs/vdev"
	"github.com/Error1000/szfs/zfs"
	"github.com/sirupsen/logrus"
)

// Pool bundles the top-level vdev map and the logging/recovery plumbing
// every object-layer read needs.
type Pool struct {
	Vdevs vdev.Vdevs
	Log   logrus.FieldLogger
	Yolo  zfs.YoloFinder
}

// logAdapter satisfies zfs.logger without exporting that interface.
type logAdapter struct{ l logrus.FieldLogger }

func (a logAdapter) Warnf(format string, args ...interface{}) { a.l.Warnf(format, args...) }

func (p *Pool) log() interface{ Warnf(string, ...interface{}) } {
	if p.Log == nil {
		p.Log = logrus.StandardLogger()
	}
	return logAdapter{p.Log}
}

// Walk parses label 0 of the first device, selects the best uberblock, and
// descends to the root directory DNode of the active filesystem. Named
// entries below it are resolved separately with LookupDirectory and
// ReadObject.
func (p *Pool) Walk(leaf0Raw []byte) (*Walked, error) {
	label, err := zfs.ParseLabel(leaf0Raw)
	if err != nil {
		return nil, fmt.Errorf("pool: parse label 0: %w", err)
	}

	var rootObjSet *zfs.ObjectSet
	ub, err := label.BestUberblock(func(u zfs.Uberblock) error {
		data, err := u.RootBP.Dereference(p.Vdevs, p.log(), p.Yolo)
		if err != nil {
			return err
		}
		os, err := zfs.ParseObjectSet(data)
		if err != nil {
			return err
		}
		rootObjSet = os
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pool: no usable uberblock: %w", err)
	}

	mos := rootObjSet
	objDirDNode, err := p.readDNode(mos, 1)
	if err != nil {
		return nil, fmt.Errorf("pool: mos object directory dnode: %w", err)
	}
	objDir, err := zfs.Dump(p.Vdevs, p.log(), p.Yolo, objDirDNode)
	if err != nil {
		return nil, fmt.Errorf("pool: mos object directory zap: %w", err)
	}
	rootDatasetObj, ok := objDir["root_dataset"]
	if !ok {
		return nil, fmt.Errorf("pool: mos object directory missing root_dataset entry")
	}

	dslDirDNode, err := p.readDNode(mos, rootDatasetObj.Uint64())
	if err != nil {
		return nil, fmt.Errorf("pool: root dsl directory dnode: %w", err)
	}
	dslDir, err := zfs.ParseDSLDirectory(dslDirDNode.Bonus)
	if err != nil {
		return nil, fmt.Errorf("pool: root dsl directory bonus: %w", err)
	}

	dslDatasetDNode, err := p.readDNode(mos, dslDir.HeadDatasetObject)
	if err != nil {
		return nil, fmt.Errorf("pool: head dataset dnode: %w", err)
	}
	dslDataset, err := zfs.ParseDSLDataset(dslDatasetDNode.Bonus)
	if err != nil {
		return nil, fmt.Errorf("pool: head dataset bonus: %w", err)
	}

	headData, err := dslDataset.RootBP.Dereference(p.Vdevs, p.log(), p.Yolo)
	if err != nil {
		return nil, fmt.Errorf("pool: head object set dereference: %w", err)
	}
	headObjSet, err := zfs.ParseObjectSet(headData)
	if err != nil {
		return nil, fmt.Errorf("pool: head object set parse: %w", err)
	}

	masterNodeDNode, err := p.readDNode(headObjSet, 1)
	if err != nil {
		return nil, fmt.Errorf("pool: master node dnode: %w", err)
	}
	masterNode, err := zfs.Dump(p.Vdevs, p.log(), p.Yolo, masterNodeDNode)
	if err != nil {
		return nil, fmt.Errorf("pool: master node zap: %w", err)
	}

	rootDirObj, ok := masterNode["ROOT"]
	if !ok {
		return nil, fmt.Errorf("pool: master node missing ROOT entry")
	}
	rootDirDNode, err := p.readDNode(headObjSet, rootDirObj.Uint64())
	if err != nil {
		return nil, fmt.Errorf("pool: root directory dnode: %w", err)
	}

	var saRegistry map[uint16]zfs.SAAttrSpec
	var saLayouts map[uint16]zfs.SALayout
	if saAttrsObj, ok := masterNode["SA_ATTRS"]; ok {
		saRegDNode, err := p.readDNode(headObjSet, saAttrsObj.Uint64())
		if err == nil {
			saRegistry, _ = zfs.LoadSARegistry(p.Vdevs, p.log(), p.Yolo, saRegDNode)
		}
	}

	return &Walked{
		Uberblock:     ub,
		MOS:           mos,
		ObjectDirectory: objDir,
		HeadObjectSet: headObjSet,
		MasterNode:    masterNode,
		RootDirectory: rootDirDNode,
		SARegistry:    saRegistry,
		SALayouts:     saLayouts,
	}, nil
}

// ReadObject reads object id objID out of an object set's DNode array.
// It is the public entry point callers use to resolve directory entries
// discovered via LookupDirectory into their DNodes.
func (p *Pool) ReadObject(os *zfs.ObjectSet, objID uint64) (*zfs.DNode, error) {
	return p.readDNode(os, objID)
}

// readDNode reads object id objID from an object set's DNode array,
// descending the meta-DNode's own indirect tree to find the slot.
func (p *Pool) readDNode(os *zfs.ObjectSet, objID uint64) (*zfs.DNode, error) {
	meta := os.MetaDNode
	slotsPerBlock := meta.DataBlockSize() / zfs.DNodeSlotSize
	if slotsPerBlock == 0 {
		return nil, fmt.Errorf("pool: meta-dnode has zero-size data blocks")
	}
	blockIdx := objID / uint64(slotsPerBlock)
	withinBlock := objID % uint64(slotsPerBlock)

	bp, err := meta.ReadBlock(p.Vdevs, p.log(), p.Yolo, blockIdx)
	if err != nil {
		return nil, fmt.Errorf("pool: meta-dnode block for object %d: %w", objID, err)
	}
	data, err := bp.Dereference(p.Vdevs, p.log(), p.Yolo)
	if err != nil {
		return nil, fmt.Errorf("pool: meta-dnode dereference for object %d: %w", objID, err)
	}

	start := int(withinBlock) * zfs.DNodeSlotSize
	if start+zfs.DNodeSlotSize > len(data) {
		return nil, fmt.Errorf("pool: dnode slot for object %d out of range", objID)
	}
	dn, err := zfs.ParseDNode(data[start : start+zfs.DNodeSlotSize])
	if err != nil {
		return nil, fmt.Errorf("pool: parse dnode for object %d: %w", objID, err)
	}
	return dn, nil
}

// LookupDirectory resolves name inside dirDNode's ZAP to an object id.
func (p *Pool) LookupDirectory(dirDNode *zfs.DNode, name string) (uint64, error) {
	entries, err := zfs.Dump(p.Vdevs, p.log(), p.Yolo, dirDNode)
	if err != nil {
		return 0, fmt.Errorf("pool: directory zap: %w", err)
	}
	v, ok := entries[name]
	if !ok {
		return 0, fmt.Errorf("pool: %q not found in directory", name)
	}
	return v.Uint64() & 0xFFFFFFFFFFFF, nil // low 48 bits carry the object id
}

// ReadFile reads the full contents of a plain-file DNode.
func (p *Pool) ReadFile(d *zfs.DNode) ([]byte, error) {
	size := int64(d.MaxBlockID+1) * int64(d.DataBlockSize())
	return d.Read(p.Vdevs, p.log(), p.Yolo, 0, int(size))
}

// Walked is the result of a full pool walk: everything needed to resolve
// further named objects inside the active head filesystem.
type Walked struct {
	Uberblock       zfs.Uberblock
	MOS             *zfs.ObjectSet
	ObjectDirectory map[string]zfs.ZAPValue
	HeadObjectSet   *zfs.ObjectSet
	MasterNode      map[string]zfs.ZAPValue
	RootDirectory   *zfs.DNode
	SARegistry      map[uint16]zfs.SAAttrSpec
	SALayouts       map[uint16]zfs.SALayout
}
