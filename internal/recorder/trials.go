// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package recorder

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/vr_assess/internal/orientation"
	"github.com/relabs-tech/vr_assess/internal/pose"
)

const (
	TrialLogName   = "TrialData"
	HandednessName = "Handedness"

	TrialTimeLayout = "2006-01-02 15:04:05.000"
	TrialLogHeader  = "Time,Trial,Phase,isVisible,Handedness,HandPos,TargetPos,Error,HeadPos,LeftEyeRot,RightEyeRot,ResetCubePos\n"
)

// TrialRow is one line of the unified trial log. Reset rows describe the
// return to the home cube rather than a reach.
type TrialRow struct {
	Time     time.Time
	Trial    int
	Reset    bool
	Visible  bool
	Hand     pose.Handedness
	HandPos  orientation.Vec3
	Target   orientation.Vec3
	Error    float64
	HeadPos  orientation.Vec3
	LeftEye  orientation.Euler
	RightEye orientation.Euler
	HomePos  orientation.Vec3
}

// OpenTrialLog writes the trial log header if the file does not exist yet.
func (r *Recorder) OpenTrialLog() error {
	if !r.Enabled() {
		return nil
	}
	path := r.Path(TrialLogName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		r.appendFailed(TrialLogName, err)
		return fmt.Errorf("recorder: create trial log: %w", err)
	}
	_, werr := f.WriteString(TrialLogHeader)
	if err := errors.Join(werr, f.Close()); err != nil {
		r.appendFailed(TrialLogName, err)
		return fmt.Errorf("recorder: write trial log header: %w", err)
	}
	return nil
}

// AppendTrial writes one row to the trial log.
func (r *Recorder) AppendTrial(row TrialRow) error {
	if !r.Enabled() {
		return nil
	}
	if err := appendLine(r.Path(TrialLogName), row.Format()); err != nil {
		r.appendFailed(TrialLogName, err)
		return fmt.Errorf("recorder: append trial %d: %w", row.Trial, err)
	}
	r.log.Debug("trial row written", zap.Int("trial", row.Trial), zap.Bool("reset", row.Reset))
	return nil
}

// WriteHandedness records the starting hand, replacing any previous value.
func (r *Recorder) WriteHandedness(at time.Time, h pose.Handedness) error {
	if !r.Enabled() {
		return nil
	}
	line := at.Format(TrialTimeLayout) + "," + string(h)
	if err := os.WriteFile(r.Path(HandednessName), []byte(line), 0o644); err != nil {
		r.appendFailed(HandednessName, err)
		return fmt.Errorf("recorder: write handedness: %w", err)
	}
	return nil
}

// Format renders the row with F3 positions and F1 eye rotations.
func (row TrialRow) Format() string {
	var b strings.Builder
	b.WriteString(row.Time.Format(TrialTimeLayout))
	if row.Reset {
		b.WriteString(",Trial Reset Cube,Phase:Reset,isVisible:N/A")
	} else {
		phase := "Invisible"
		if row.Visible {
			phase = "Visible"
		}
		fmt.Fprintf(&b, ",Trial %d,Phase:%s,isVisible:%s", row.Trial, phase, boolWord(row.Visible))
	}
	fmt.Fprintf(&b, ",Handedness:%s", row.Hand)
	writeVec(&b, "HandPos", row.HandPos.Components(), 3)
	writeVec(&b, "TargetPos", row.Target.Components(), 3)
	writeVec(&b, "Error", []float64{row.Error}, 3)
	writeVec(&b, "HeadPos", row.HeadPos.Components(), 3)
	writeVec(&b, "LeftEyeRot", row.LeftEye.Normalized().Components(), 1)
	writeVec(&b, "RightEyeRot", row.RightEye.Normalized().Components(), 1)
	writeVec(&b, "ResetCubePos", row.HomePos.Components(), 3)
	b.WriteByte('\n')
	return b.String()
}

func writeVec(b *strings.Builder, label string, vals []float64, prec int) {
	b.WriteByte(',')
	b.WriteString(label)
	b.WriteByte('(')
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(b, "%.*f", prec, v)
	}
	b.WriteByte(')')
}

// boolWord matches the capitalised booleans existing analysis scripts parse.
func boolWord(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
