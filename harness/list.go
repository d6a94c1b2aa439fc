package harness

import (
	"io"

	"github.com/lattice-substrate/e32-torture/oracle"
)

// WritePlan prints every combination of s with its verdict and classes.
func WritePlan(w io.Writer, s *Suite) error {
	plan, err := s.Plan()
	if err != nil {
		return err
	}
	if err := writef(w, "suite %s: target %s, table %s, %d combinations\n",
		s.Name(), s.Universe.Kind(), s.Config.Table, len(plan)); err != nil {
		return err
	}
	for _, pc := range plan {
		classes := s.Oracle.Table().Classify(pc.Combination.Set)
		if err := writef(w, "%3d  %-8s %-8s dso=%-28s image=%s\n",
			pc.Combination.Ordinal, pc.Combination.Code, pc.Verdict,
			orDash(classes[oracle.KindDSO]), orDash(classes[oracle.KindImage])); err != nil {
			return err
		}
	}
	return nil
}

func orDash(c oracle.Class) string {
	if c == "" {
		return "-"
	}
	return string(c)
}
