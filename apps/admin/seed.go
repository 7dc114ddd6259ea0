package main

import (
	"context"
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/rank"
	"github.com/seido/portal/core/referee"
)

type (
	seedData struct {
		Ranks []seedRank                `yaml:"ranks"`
		Banks []seedBank                `yaml:"banks"`
		Rules []referee.NewRuleDocument `yaml:"rules"`
	}

	seedRank struct {
		rank.NewRank `yaml:",inline"`
		Grading      *seedGrading `yaml:"grading"`
	}

	// seedGrading is the grading configuration of a rank.
	seedGrading struct {
		Available    bool `yaml:"available"`
		DisplayOrder int  `yaml:"display_order"`
	}

	seedBank struct {
		referee.NewBank `yaml:",inline"`
		Active          *bool                 `yaml:"active"`
		Questions       []referee.NewQuestion `yaml:"questions"`
	}
)

func loadSeedData(path string) (seedData, error) {
	var data seedData
	b, err := os.ReadFile(path)
	if err != nil {
		return data, err
	}
	if err = yaml.Unmarshal(b, &data); err != nil {
		return data, pkgerrors.Wrapf(err, "parsing %s", path)
	}
	return data, nil
}

// seed loads the seed file. Records are matched on natural keys, so seeding twice is a no-op:
// ranks by rank order, banks by name and version, questions by number, rule documents by title and version.
func (cli *commandLine) seed(path string) error {
	data, err := loadSeedData(path)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if err = cli.seedRanks(ctx, data.Ranks); err != nil {
		return err
	}
	if err = cli.seedBanks(ctx, data.Banks); err != nil {
		return err
	}
	return cli.seedRules(ctx, data.Rules)
}

func (cli *commandLine) seedRanks(ctx context.Context, ranks []seedRank) error {
	for i := range ranks {
		sr := &ranks[i]
		if err := sr.NewRank.Validate(cli.validate); err != nil {
			return pkgerrors.Wrapf(err, "rank %d", sr.RankOrder)
		}
		r, err := cli.svcs.Rank.Save(ctx, sr.NewRank)
		if err != nil {
			return pkgerrors.Wrapf(err, "saving rank %d", sr.RankOrder)
		}
		if sr.Grading != nil {
			if _, err = cli.svcs.Rank.SaveConfiguration(ctx, r.ID, sr.Grading.DisplayOrder, sr.Grading.Available); err != nil {
				return pkgerrors.Wrapf(err, "saving grading configuration of rank %d", sr.RankOrder)
			}
		}
	}
	fmt.Printf("%d ranks seeded\n", len(ranks))
	return nil
}

func (cli *commandLine) seedBanks(ctx context.Context, banks []seedBank) error {
	for i := range banks {
		sb := &banks[i]
		if err := sb.NewBank.Validate(cli.validate); err != nil {
			return pkgerrors.Wrapf(err, "bank %q", sb.Name)
		}

		bank, err := cli.svcs.Referee.FindBank(ctx, sb.Name, sb.Version)
		if core.IsNotFound(err) {
			bank, err = cli.svcs.Referee.CreateBank(ctx, sb.NewBank)
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "saving bank %q", sb.Name)
		}
		if sb.Active != nil && *sb.Active != bank.IsActive {
			if bank, err = cli.svcs.Referee.SetBankActive(ctx, bank.ID, *sb.Active); err != nil {
				return pkgerrors.Wrapf(err, "activating bank %q", sb.Name)
			}
		}

		existing, err := cli.svcs.Referee.ListQuestions(ctx, bank.ID)
		if err != nil {
			return err
		}
		seeded := make(map[int]bool, len(existing))
		for _, q := range existing {
			seeded[q.QuestionNumber] = true
		}
		nq := referee.NewQuestions{Questions: make([]referee.NewQuestion, 0, len(sb.Questions))}
		for _, q := range sb.Questions {
			if !seeded[q.QuestionNumber] {
				nq.Questions = append(nq.Questions, q)
			}
		}
		if len(nq.Questions) == 0 {
			continue
		}
		if err = nq.Validate(cli.validate); err != nil {
			return pkgerrors.Wrapf(err, "questions of bank %q", sb.Name)
		}
		if _, err = cli.svcs.Referee.AddQuestions(ctx, bank.ID, nq.Questions); err != nil {
			return pkgerrors.Wrapf(err, "adding questions to bank %q", sb.Name)
		}
		fmt.Printf("%d questions added to %q\n", len(nq.Questions), sb.Name)
	}
	return nil
}

func (cli *commandLine) seedRules(ctx context.Context, docs []referee.NewRuleDocument) error {
	existing, err := cli.svcs.Referee.ListRuleDocuments(ctx, "")
	if err != nil {
		return err
	}
	seeded := make(map[string]bool, len(existing))
	for _, d := range existing {
		seeded[d.Title+"@"+d.Version] = true
	}

	added := 0
	for i := range docs {
		nd := &docs[i]
		if err = nd.Validate(cli.validate); err != nil {
			return pkgerrors.Wrapf(err, "rule document %q", nd.Title)
		}
		if seeded[nd.Title+"@"+nd.Version] {
			continue
		}
		if _, err = cli.svcs.Referee.CreateRuleDocument(ctx, *nd); err != nil {
			return pkgerrors.Wrapf(err, "creating rule document %q", nd.Title)
		}
		seeded[nd.Title+"@"+nd.Version] = true
		added++
	}
	fmt.Printf("%d rule documents added\n", added)
	return nil
}
