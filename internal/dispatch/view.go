package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/metrics"
)

// ErrUnknownBlock is returned for actions addressed to a block id that is
// not part of the view.
var ErrUnknownBlock = errors.New("unknown block")

// ViewSection is a mounted section.
type ViewSection struct {
	ID     string
	Title  string
	Blocks []Block
}

// View is a lesson mounted for one viewer. Blocks are addressable by id and
// are torn down together by Close.
type View struct {
	id       string
	lesson   *lessonview.Lesson
	sections []ViewSection
	byID     map[string]Block

	closeOnce sync.Once
}

// BlockID returns the id of the item at index in section.
func BlockID(sectionID string, index int) string {
	return fmt.Sprintf("%s-%d", sectionID, index)
}

// Mount dispatches every item of lesson. onChange, if set, receives the id
// of a block whose state changed outside a render.
func Mount(ctx context.Context, d *Dispatcher, lesson *lessonview.Lesson, onChange func(blockID string)) *View {
	v := &View{
		id:     uuid.NewString(),
		lesson: lesson,
		byID:   make(map[string]Block),
	}
	for _, sec := range lesson.Sections {
		vs := ViewSection{ID: sec.ID, Title: sec.Title}
		for i, item := range sec.Items {
			slot := Slot{ID: BlockID(sec.ID, i), Section: sec}
			if onChange != nil {
				blockID := slot.ID
				slot.OnChange = func() { onChange(blockID) }
			}
			b := d.Dispatch(ctx, item, slot)
			vs.Blocks = append(vs.Blocks, b)
			v.byID[b.ID()] = b
		}
		v.sections = append(v.sections, vs)
	}
	metrics.ActiveSessions.Inc()
	return v
}

// ID returns the view's unique session id.
func (v *View) ID() string { return v.id }

// Lesson returns the mounted lesson.
func (v *View) Lesson() *lessonview.Lesson { return v.lesson }

// Sections returns the mounted sections in lesson order.
func (v *View) Sections() []ViewSection { return v.sections }

// Block returns the block with id.
func (v *View) Block(id string) (Block, bool) {
	b, ok := v.byID[id]
	return b, ok
}

var viewTemplate = template.Must(template.New("view").Parse(`<article class="lv-lesson" data-view-id="{{.ID}}">
{{- if .Title}}
<h1>{{.Title}}</h1>
{{- end}}
{{- range .Sections}}
<section class="lv-section" id="{{.ID}}">
{{- if .Title}}
<h2>{{.Title}}</h2>
{{- end}}
{{- range .Blocks}}
{{.}}
{{- end}}
</section>
{{- end}}
</article>`))

var blockTemplate = template.Must(template.New("block").Parse(
	`<div class="lv-block lv-{{.Kind}}" id="block-{{.ID}}" data-block-id="{{.ID}}">{{.HTML}}</div>`))

type renderedSection struct {
	ID     string
	Title  string
	Blocks []template.HTML
}

// Render renders the whole lesson. A block that fails to render leaves an
// empty wrapper and never affects its siblings.
func (v *View) Render(ctx context.Context) template.HTML {
	data := struct {
		ID       string
		Title    string
		Sections []renderedSection
	}{ID: v.id, Title: v.lesson.Title}

	for _, sec := range v.sections {
		rs := renderedSection{ID: sec.ID, Title: sec.Title}
		for _, b := range sec.Blocks {
			rs.Blocks = append(rs.Blocks, wrapBlock(ctx, b))
		}
		data.Sections = append(data.Sections, rs)
	}
	return execute(viewTemplate, data)
}

// RenderBlock renders one block with its wrapper, for partial updates.
func (v *View) RenderBlock(ctx context.Context, id string) (template.HTML, error) {
	b, ok := v.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	return wrapBlock(ctx, b), nil
}

func wrapBlock(ctx context.Context, b Block) template.HTML {
	kind := string(b.Kind())
	if !b.Kind().Known() {
		kind = "unknown"
	}
	return execute(blockTemplate, struct {
		ID   string
		Kind string
		HTML template.HTML
	}{b.ID(), kind, Render(ctx, b)})
}

// Action routes a user action to a block.
func (v *View) Action(ctx context.Context, blockID, action string, data json.RawMessage) error {
	b, ok := v.byID[blockID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, blockID)
	}
	a, ok := b.(Actor)
	if !ok {
		return fmt.Errorf("%w: %s on %s block", ErrUnsupportedAction, action, b.Kind())
	}
	if err := a.HandleAction(ctx, strings.TrimSpace(action), data); err != nil {
		return fmt.Errorf("block %s: %w", blockID, err)
	}
	return nil
}

// Wait blocks until every widget in the view has settled or ctx ends.
func (v *View) Wait(ctx context.Context) error {
	for _, b := range v.byID {
		if wb, ok := b.(*WidgetBlock); ok {
			if err := wb.Wait(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close tears down every block, cancelling outstanding timers and loads.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		for _, sec := range v.sections {
			for _, b := range sec.Blocks {
				b.Close()
			}
		}
		metrics.ActiveSessions.Dec()
	})
}
