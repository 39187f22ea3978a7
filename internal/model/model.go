package model

import "sync"

// Model is the single process-wide owner of RuntimeState, guarded by a
// reader-writer lock (spec.md §3 "Ownership", §5 "Shared-resource policy").
// No network or MIDI I/O is ever performed while the lock is held; every
// method here is a bounded, in-memory critical section. Callers — the
// router and morph engine — are responsible for publishing bus events after
// a method returns, i.e. after the lock has already been released, which is
// exactly the ordering spec.md §4.2 requires ("Guards are released before
// publishing events to avoid reentrant lock acquisition via event handlers").
type Model struct {
	mu    sync.RWMutex
	state RuntimeState
	// morphGeneration increments on every StartMorph/CancelMorph/FinalizeMorph
	// so a running morph task can tell, without holding a pointer into
	// RuntimeState, whether the morph it is ticking is still the live one.
	morphGeneration uint64
}

// New constructs a Model from an initial project. Every snap is padded to
// the parameter count and CurrentBank/CurrentSnap are clamped into range.
func New(project Project) *Model {
	m := &Model{state: RuntimeState{
		Project:           project,
		ActiveModifier:    NoModifier,
		MorphDurationBars: 1,
	}}
	for bi := range m.state.Banks {
		for si := range m.state.Banks[bi].Snaps {
			padSnap(&m.state.Banks[bi].Snaps[si], len(m.state.Parameters))
		}
	}
	if m.state.CurrentBank >= len(m.state.Banks) {
		m.state.CurrentBank = 0
	}
	if len(m.state.Banks) > 0 {
		if m.state.CurrentSnap >= len(m.state.Banks[m.state.CurrentBank].Snaps) {
			m.state.CurrentSnap = 0
		}
	}
	return m
}

func padSnap(s *Snap, paramCount int) {
	for len(s.Values) < paramCount {
		s.Values = append(s.Values, MidPoint)
	}
}

// Snapshot returns a deep copy of the current state, safe to read without
// holding any lock (spec.md §3 "Ownership": "Value snapshots ... are copied
// out under the read lock, never aliased").
func (m *Model) Snapshot() RuntimeState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyState()
}

func (m *Model) copyState() RuntimeState {
	s := m.state
	s.Parameters = append([]Parameter(nil), m.state.Parameters...)
	s.Banks = make([]Bank, len(m.state.Banks))
	for i, b := range m.state.Banks {
		s.Banks[i] = Bank{Name: b.Name, Snaps: make([]Snap, len(b.Snaps))}
		for j, sn := range b.Snaps {
			s.Banks[i].Snaps[j] = Snap{
				Name:        sn.Name,
				Description: sn.Description,
				Values:      append([]uint8(nil), sn.Values...),
			}
		}
	}
	if m.state.ActiveMorph != nil {
		am := *m.state.ActiveMorph
		am.FromValues = append([]uint8(nil), am.FromValues...)
		am.ToValues = append([]uint8(nil), am.ToValues...)
		am.CurrentValues = append([]uint8(nil), am.CurrentValues...)
		s.ActiveMorph = &am
	}
	return s
}

// SelectBank moves CurrentBank, clamping CurrentSnap back into range if the
// new bank has fewer snaps than the current index (spec.md §3 invariant 1).
func (m *Model) SelectBank(bankID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bankID < 0 || bankID >= len(m.state.Banks) {
		return errBankRange(bankID, len(m.state.Banks))
	}
	m.state.CurrentBank = bankID
	if m.state.CurrentSnap >= len(m.state.Banks[bankID].Snaps) {
		m.state.CurrentSnap = 0
	}
	return nil
}

// SelectSnap materializes the target snap's values (padding with MidPoint if
// needed), moves CurrentBank/CurrentSnap, and returns a copy of the values
// in parameter order for the caller to emit as CC messages.
func (m *Model) SelectSnap(bankID, snapID int) ([]uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bankID < 0 || bankID >= len(m.state.Banks) {
		return nil, errBankRange(bankID, len(m.state.Banks))
	}
	bank := &m.state.Banks[bankID]
	if snapID < 0 || snapID >= len(bank.Snaps) {
		return nil, errSnapRange(snapID, len(bank.Snaps))
	}
	snap := &bank.Snaps[snapID]
	padSnap(snap, len(m.state.Parameters))
	m.state.CurrentBank = bankID
	m.state.CurrentSnap = snapID
	return append([]uint8(nil), snap.Values[:len(m.state.Parameters)]...), nil
}

// CurrentSnapValues returns a copy of the currently-selected snap's values,
// used by LED refresh and diagnostics without engaging morph semantics.
func (m *Model) CurrentSnapValues() []uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.CurrentBank >= len(m.state.Banks) {
		return nil
	}
	bank := m.state.Banks[m.state.CurrentBank]
	if m.state.CurrentSnap >= len(bank.Snaps) {
		return nil
	}
	return append([]uint8(nil), bank.Snaps[m.state.CurrentSnap].Values...)
}

// AddParameter appends a new parameter and pads every snap, in every bank,
// at the new index (spec.md §4.2: "On parameter addition, every snap across
// every bank is padded with 64 at the new parameter's position").
func (m *Model) AddParameter(p Parameter) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Parameters = append(m.state.Parameters, p)
	newCount := len(m.state.Parameters)
	for bi := range m.state.Banks {
		for si := range m.state.Banks[bi].Snaps {
			padSnap(&m.state.Banks[bi].Snaps[si], newCount)
		}
	}
	return newCount - 1
}

// UpdateParameter replaces the parameter at idx.
func (m *Model) UpdateParameter(idx int, p Parameter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx < 0 || idx >= len(m.state.Parameters) {
		return errParamRange(idx, len(m.state.Parameters))
	}
	m.state.Parameters[idx] = p
	return nil
}

// AddSnap appends a snap to bankID, rejecting banks already at capacity.
func (m *Model) AddSnap(bankID int, snap Snap) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bankID < 0 || bankID >= len(m.state.Banks) {
		return 0, errBankRange(bankID, len(m.state.Banks))
	}
	bank := &m.state.Banks[bankID]
	if len(bank.Snaps) >= MaxSnapsPerBank {
		return 0, &ValidationError{Field: "snap_id", Message: "bank is at maximum snap capacity"}
	}
	padSnap(&snap, len(m.state.Parameters))
	bank.Snaps = append(bank.Snaps, snap)
	return len(bank.Snaps) - 1, nil
}

// UpdateSnapDescription edits a snap's description in place.
func (m *Model) UpdateSnapDescription(bankID, snapID int, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bankID < 0 || bankID >= len(m.state.Banks) {
		return errBankRange(bankID, len(m.state.Banks))
	}
	bank := &m.state.Banks[bankID]
	if snapID < 0 || snapID >= len(bank.Snaps) {
		return errSnapRange(snapID, len(bank.Snaps))
	}
	bank.Snaps[snapID].Description = description
	return nil
}

// SetControllerName edits the project's controller identity
// (Project.ControllerID). It only stores the name; MIDI port selection reads
// the configured controller name, not this field.
func (m *Model) SetControllerName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ControllerID = name
}

// SetAIKey stores the AI service API key the UI collaborator configured.
// The core never uses it directly (spec.md §1 Out of scope).
func (m *Model) SetAIKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.AIKeyOpt = key
}

// ApplyAIValues writes AI-generated values into a snap (spec.md
// SPEC_FULL.md "AI-generation event shape"), clamping to u7 and padding to
// the parameter count.
func (m *Model) ApplyAIValues(bankID, snapID int, values []uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bankID < 0 || bankID >= len(m.state.Banks) {
		return errBankRange(bankID, len(m.state.Banks))
	}
	bank := &m.state.Banks[bankID]
	if snapID < 0 || snapID >= len(bank.Snaps) {
		return errSnapRange(snapID, len(bank.Snaps))
	}
	clamped := make([]uint8, len(values))
	for i, v := range values {
		if v > 127 {
			v = 127
		}
		clamped[i] = v
	}
	bank.Snaps[snapID].Values = clamped
	padSnap(&bank.Snaps[snapID], len(m.state.Parameters))
	return nil
}

// SetParameterValue writes value into paramID's slot of the currently
// selected snap (spec.md §6 command surface, `ParameterEdited`) and returns
// the parameter's CC number for the caller to emit.
func (m *Model) SetParameterValue(paramID int, value uint8) (cc uint8, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if paramID < 0 || paramID >= len(m.state.Parameters) {
		return 0, errParamRange(paramID, len(m.state.Parameters))
	}
	if m.state.CurrentBank < 0 || m.state.CurrentBank >= len(m.state.Banks) {
		return 0, errBankRange(m.state.CurrentBank, len(m.state.Banks))
	}
	bank := &m.state.Banks[m.state.CurrentBank]
	if m.state.CurrentSnap < 0 || m.state.CurrentSnap >= len(bank.Snaps) {
		return 0, errSnapRange(m.state.CurrentSnap, len(bank.Snaps))
	}
	snap := &bank.Snaps[m.state.CurrentSnap]
	padSnap(snap, len(m.state.Parameters))
	snap.Values[paramID] = value
	return m.state.Parameters[paramID].CC, nil
}

// SetActiveModifier records a held modifier pad (0..4) and the morph
// duration it selects, or clears it with NoModifier (spec.md §4.5).
func (m *Model) SetActiveModifier(modifier, durationBars int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ActiveModifier = modifier
	if modifier != NoModifier {
		m.state.MorphDurationBars = durationBars
	}
}

// ClearActiveModifierIfMatches clears ActiveModifier only if it currently
// equals pad, so a stray release of a pad that was never the held modifier
// is a no-op. Returns whether it cleared anything.
func (m *Model) ClearActiveModifierIfMatches(pad int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.ActiveModifier == pad {
		m.state.ActiveModifier = NoModifier
		return true
	}
	return false
}

// HasActiveMorph reports whether a morph is currently in flight.
func (m *Model) HasActiveMorph() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ActiveMorph != nil
}

// StartMorph validates bank/from/to ranges, snapshots from/to values under
// the write lock, and installs a fresh ActiveMorph with progress 0 (spec.md
// §4.6 steps 2-3). It replaces any morph already in flight (preemption is
// the caller's responsibility: the morph engine aborts the old task first).
func (m *Model) StartMorph(bankID, fromSnap, toSnap, durationBars int, curve Curve) (ActiveMorph, []Parameter, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bankID < 0 || bankID >= len(m.state.Banks) {
		return ActiveMorph{}, nil, 0, errBankRange(bankID, len(m.state.Banks))
	}
	bank := &m.state.Banks[bankID]
	if fromSnap < 0 || fromSnap >= len(bank.Snaps) {
		return ActiveMorph{}, nil, 0, errSnapRange(fromSnap, len(bank.Snaps))
	}
	if toSnap < 0 || toSnap >= len(bank.Snaps) {
		return ActiveMorph{}, nil, 0, errSnapRange(toSnap, len(bank.Snaps))
	}
	paramCount := len(m.state.Parameters)
	padSnap(&bank.Snaps[fromSnap], paramCount)
	padSnap(&bank.Snaps[toSnap], paramCount)

	fromValues := append([]uint8(nil), bank.Snaps[fromSnap].Values[:paramCount]...)
	toValues := append([]uint8(nil), bank.Snaps[toSnap].Values[:paramCount]...)
	currentValues := append([]uint8(nil), fromValues...)
	params := append([]Parameter(nil), m.state.Parameters...)

	am := ActiveMorph{
		FromSnap:      fromSnap,
		ToSnap:        toSnap,
		DurationBars:  durationBars,
		Curve:         curve,
		Progress:      0,
		FromValues:    fromValues,
		ToValues:      toValues,
		CurrentValues: currentValues,
	}
	m.state.ActiveMorph = &am
	m.state.CurrentBank = bankID
	m.state.CurrentSnap = fromSnap
	m.morphGeneration++
	gen := m.morphGeneration

	ret := am
	ret.FromValues = append([]uint8(nil), fromValues...)
	ret.ToValues = append([]uint8(nil), toValues...)
	ret.CurrentValues = append([]uint8(nil), currentValues...)
	return ret, params, gen, nil
}

// UpdateMorphProgress writes progress/currentValues into the in-flight
// morph if generation still matches the live morph. It returns false
// without writing anything if the morph was cancelled out from under the
// caller (a plain selection, or a newer MorphInitiated preempted it) — the
// morph engine task observes this and stops emitting (spec.md §4.6
// "Cancellation").
func (m *Model) UpdateMorphProgress(generation uint64, progress float64, values []uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.ActiveMorph == nil || m.morphGeneration != generation {
		return false
	}
	m.state.ActiveMorph.Progress = progress
	m.state.ActiveMorph.CurrentValues = append([]uint8(nil), values...)
	return true
}

// CancelMorph clears ActiveMorph unconditionally (spec.md §4.5: a plain snap
// press while a morph runs cancels it first). Returns whether a morph was
// actually active.
func (m *Model) CancelMorph() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.ActiveMorph == nil {
		return false
	}
	m.state.ActiveMorph = nil
	m.morphGeneration++
	return true
}

// FinalizeMorph persists the target snap's values, moves CurrentSnap to it,
// and clears ActiveMorph (spec.md §4.6 step 8, "Finalize") if generation
// still matches the live morph (a concurrent cancel may have already beaten
// finalization to the lock). applied reports whether the write actually
// happened; the caller must gate its own bus emissions on it, since a
// cancel racing the final tick is otherwise invisible to it.
func (m *Model) FinalizeMorph(generation uint64, bankID, toSnap int, toValues []uint8) (applied bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bankID < 0 || bankID >= len(m.state.Banks) {
		return false, errBankRange(bankID, len(m.state.Banks))
	}
	bank := &m.state.Banks[bankID]
	if toSnap < 0 || toSnap >= len(bank.Snaps) {
		return false, errSnapRange(toSnap, len(bank.Snaps))
	}
	if m.state.ActiveMorph == nil || m.morphGeneration != generation {
		return false, nil
	}
	bank.Snaps[toSnap].Values = append([]uint8(nil), toValues...)
	m.state.CurrentSnap = toSnap
	m.state.ActiveMorph = nil
	m.morphGeneration++
	return true, nil
}
