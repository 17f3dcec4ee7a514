// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import "github.com/sirupsen/logrus"

// NewLogger builds a structured logrus logger for a run, defaulting every
// entry to carry the owning rank as a field so multi-rank log output can be
// filtered per rank. levelName is parsed with logrus.ParseLevel; an unknown
// name falls back to logrus.InfoLevel.
func NewLogger(rank int, levelName string) *logrus.Entry {
	base := logrus.New()
	if lvl, err := logrus.ParseLevel(levelName); err == nil {
		base.SetLevel(lvl)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(base).WithField("rank", rank)
}
