package report

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"diagnostic-engine/internal/consultation"
	"diagnostic-engine/internal/knowledge"
)

type TelegramClient interface {
	SendMessage(chatID int64, text string) error
	SendDocument(chatID int64, fileData []byte, fileName string) error
}

// DiseaseLookup supplies the descriptive record of a disease, if known.
type DiseaseLookup interface {
	Disease(name string) (knowledge.Disease, bool)
}

// Common DejaVuSans locations; the font covers Cyrillic and CJK-free Latin.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

type Service struct {
	tgClient     TelegramClient
	doctorChatID int64
	lookup       DiseaseLookup
	fontPaths    []string
}

func NewService(tg TelegramClient, doctorChatID int64, lookup DiseaseLookup) *Service {
	return &Service{
		tgClient:     tg,
		doctorChatID: doctorChatID,
		lookup:       lookup,
		fontPaths:    DefaultFontPaths,
	}
}

// SendDoctorReport sends the PDF report to the doctor's chat. When no PDF can
// be produced, the plain text summary is sent instead.
func (s *Service) SendDoctorReport(ctx context.Context, c consultation.Session) error {
	pdfData, err := s.renderPDF(c)
	if err != nil {
		log.Printf("PDF report for session %s unavailable, sending text: %v", c.ID, err)
		return s.tgClient.SendMessage(s.doctorChatID, Summary(c, s.lookup))
	}

	fileName := fmt.Sprintf("report_%s.pdf", c.ID.String())
	if err := s.tgClient.SendDocument(s.doctorChatID, pdfData, fileName); err != nil {
		return fmt.Errorf("failed to send report document: %w", err)
	}
	log.Printf("Report for session %s sent to chat %d", c.ID, s.doctorChatID)
	return nil
}

// Summary renders the report as plain text.
func Summary(c consultation.Session, lookup DiseaseLookup) string {
	var b strings.Builder
	for _, section := range sections(c, lookup) {
		b.WriteString(section.title)
		b.WriteString("\n")
		for _, line := range section.lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

type section struct {
	title string
	lines []string
}

func sections(c consultation.Session, lookup DiseaseLookup) []section {
	out := []section{{
		title: "Diagnostic consultation report",
		lines: []string{
			"Date: " + time.Now().Format("02.01.2006 15:04"),
			"Session: " + c.ID.String(),
			"Patient: " + c.PatientID.String(),
			fmt.Sprintf("Rounds: %d", len(c.State.Rounds)),
		},
	}}

	likely := section{title: "Most likely conditions:"}
	if len(c.Diagnosis) == 0 {
		likely.lines = append(likely.lines, "- No diagnosis available.")
	}
	for i, r := range c.Diagnosis {
		likely.lines = append(likely.lines, fmt.Sprintf("%d. %s (%.1f%%)", i+1, r.Disease, r.Probability*100))
	}
	out = append(out, likely)

	answers := section{title: "Answered symptoms:"}
	if len(c.State.Answered) == 0 {
		answers.lines = append(answers.lines, "- None.")
	}
	for _, a := range c.State.Answered {
		mark := "no"
		if a.Present {
			mark = "yes"
		}
		answers.lines = append(answers.lines, fmt.Sprintf("- %s: %s", a.Symptom, mark))
	}
	out = append(out, answers)

	if lookup != nil && len(c.Diagnosis) > 0 {
		if d, ok := lookup.Disease(c.Diagnosis[0].Disease); ok {
			info := section{title: "About " + d.Name + ":"}
			add := func(label string, values []string) {
				if len(values) > 0 {
					info.lines = append(info.lines, fmt.Sprintf("%s: %s", label, strings.Join(values, ", ")))
				}
			}
			add("Departments", d.Departments)
			add("Checks", d.Checks)
			add("Treatments", d.Treatments)
			add("Drugs", d.Drugs)
			add("Complications", d.Complications)
			if d.Prevention != "" {
				info.lines = append(info.lines, "Prevention: "+d.Prevention)
			}
			if len(info.lines) > 0 {
				out = append(out, info)
			}
		}
	}

	transcript := section{title: "Conversation:"}
	for _, m := range c.History {
		who := "Patient"
		if m.Role == "assistant" {
			who = "Assistant"
		}
		transcript.lines = append(transcript.lines, fmt.Sprintf("%s: %s", who, m.Content))
	}
	out = append(out, transcript)
	return out
}

func (s *Service) renderPDF(c consultation.Session) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, fmt.Errorf("failed to load font for PDF, last error: %v", fontErr)
	}

	for i, sec := range sections(c, s.lookup) {
		size := 14
		if i == 0 {
			size = 20
		}
		if err := pdf.SetFont("DejaVu", "", size); err != nil {
			return nil, err
		}
		newPageIfFull(&pdf)
		pdf.Cell(nil, sec.title)
		pdf.Br(float64(size) + 6)

		if err := pdf.SetFont("DejaVu", "", 11); err != nil {
			return nil, err
		}
		for _, line := range sec.lines {
			wrapped, err := pdf.SplitText(line, 500)
			if err != nil {
				wrapped = []string{line}
			}
			for _, l := range wrapped {
				newPageIfFull(&pdf)
				pdf.Cell(nil, l)
				pdf.Br(14)
			}
		}
		pdf.Br(10)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func newPageIfFull(pdf *gopdf.GoPdf) {
	if pdf.GetY() > 790 {
		pdf.AddPage()
	}
}
