// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/LynnColeArt/sassplay"
	"github.com/LynnColeArt/sassplay/cuda"
	"github.com/LynnColeArt/sassplay/pipeline"
	"github.com/LynnColeArt/sassplay/store"
	"github.com/LynnColeArt/sassplay/toolchain"
)

// app holds the collaborators of one command invocation.
type app struct {
	store   *store.Store
	device  sassplay.Device
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}
}

// openApp opens the store and, if needed, the configured device.
func openApp(withDevice bool) (*app, error) {
	st, err := store.Open(cfg.StoreDir, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	a := &app{store: st, closers: []func() error{st.Close}}
	if !withDevice {
		return a, nil
	}

	switch cfg.Device.Backend {
	case "cuda":
		dev, err := cuda.Open(cfg.Device.Library, cfg.Device.Ordinal, logger.Named("cuda"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.device = dev
		a.closers = append(a.closers, dev.Close)
	default:
		emu := sassplay.NewEmulator()
		a.device = emu
		a.closers = append(a.closers, func() error { emu.Close(); return nil })
	}
	return a, nil
}

// pipeline builds the pipeline. Tools are probed on first use so that
// commands which never run a tool do not pay for the probe.
func (a *app) pipeline(ctx context.Context) *pipeline.Pipeline {
	var cmp *sassplay.Comparator
	if a.device != nil {
		engine := sassplay.NewEngine(a.device, sassplay.WithLogger(logger.Named("engine")))
		cmp = sassplay.NewComparator(engine, logger.Named("compare"))
	}
	tools := &lazyTools{ctx: ctx}
	return pipeline.New(tools, a.store, cmp, pipeline.Config{Arch: cfg.Arch, Logger: logger.Named("pipeline")})
}

func toolchainOptions() toolchain.Options {
	return toolchain.Options{
		BuildDir: cfg.BuildDir,
		Timeout:  cfg.ToolchainTimeout(),
		Logger:   logger.Named("toolchain"),
	}
}

type lazyTools struct {
	ctx  context.Context
	once sync.Once
	tc   *toolchain.Toolchain
}

func (l *lazyTools) get() *toolchain.Toolchain {
	l.once.Do(func() {
		avail := toolchain.Probe(l.ctx, cfg.Toolchain.Tools, toolchainOptions())
		if missing := avail.Missing(); len(missing) > 0 {
			logger.Debug("tools unavailable", zap.Strings("tools", missing))
		}
		l.tc = toolchain.New(avail, toolchainOptions())
	})
	return l.tc
}

func (l *lazyTools) Compile(ctx context.Context, src, arch string) (toolchain.Compiled, error) {
	return l.get().Compile(ctx, src, arch)
}

func (l *lazyTools) Disassemble(ctx context.Context, cubin, arch string) (toolchain.Disassembled, error) {
	return l.get().Disassemble(ctx, cubin, arch)
}

func (l *lazyTools) Assemble(ctx context.Context, edited, arch string) (toolchain.Assembled, error) {
	return l.get().Assemble(ctx, edited, arch)
}

func parseRef(s string) (sassplay.Ref, error) {
	ref, err := sassplay.ParseRef(s)
	if err != nil {
		return ref, fmt.Errorf("invalid artifact reference %q (want <id> or <id>@<version>)", s)
	}
	return ref, nil
}

func family(name string) (sassplay.KernelFamily, error) {
	if name == "" {
		name = cfg.Family
	}
	k, err := sassplay.LookupFamily(name)
	if err != nil {
		names := make([]string, 0)
		for _, f := range sassplay.Families() {
			names = append(names, f.Name)
		}
		return k, fmt.Errorf("unknown kernel family %q (available: %s)", name, strings.Join(names, ", "))
	}
	return k, nil
}
