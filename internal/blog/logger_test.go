// Copyright 2024 The bxcommon Authors
// This file is part of bxcommon.
//
// bxcommon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// bxcommon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with bxcommon. If not, see <http://www.gnu.org/licenses/>.

package blog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerWithBindsAttrs(t *testing.T) {
	out := new(bytes.Buffer)
	l := New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: LevelTrace}))
	l = l.With("fileno", 7)
	l.Info("connection added", "ip", "1.2.3.4")

	have := out.String()
	if !strings.Contains(have, "fileno=7") {
		t.Errorf("expected bound attr fileno=7 in log line, got %q", have)
	}
	if !strings.Contains(have, "ip=1.2.3.4") {
		t.Errorf("expected call-site attr ip=1.2.3.4 in log line, got %q", have)
	}
}

func TestLoggerLevelsAreOrdered(t *testing.T) {
	if !(LevelTrace < LevelDebug && LevelDebug < LevelInfo && LevelInfo < LevelWarn && LevelWarn < LevelError && LevelError < LevelCrit) {
		t.Fatalf("expected strictly increasing severity levels")
	}
}
