package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	// Text Truncation
	EllipsisLength        = 3  // length of "..."
	MaxTopicDisplayWidth  = 25 // maximum width for topic before truncation
	MaxDeviceDisplayWidth = 16 // a DevEUI is never longer
	TruncatedTopicWidth   = 22 // topic width after truncation (25 - 3 for "...")
	MinimumPayloadWidth   = 10

	// Performance settings
	MaxDisplayedDownlinks = 1000 // maximum downlinks to keep in display
	MaxDisplayedEvents    = 1000
)

// deviceSummary is the latest state of one simulated device
type deviceSummary struct {
	id          string
	color       string
	count       int
	battery     int
	temperature float32
	hasReading  bool
	lastSeen    time.Time
}

// Dashboard shows published downlinks, a per-device overview and engine
// events in the terminal
type Dashboard struct {
	app           *tview.Application
	downlinksView *tview.TextView
	devicesView   *tview.TextView
	eventsView    *tview.TextView
	statusView    *tview.TextView
	flex          *tview.Flex
	truncate      bool // Whether to truncate rows to fit terminal width

	mu        sync.Mutex
	downlinks []DownlinkRow // Store raw rows for reformatting
	devices   map[string]*deviceSummary
}

func NewDashboard(truncate bool) *Dashboard {
	app := tview.NewApplication()

	downlinksView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(MaxDisplayedDownlinks)
	downlinksView.SetBorder(true).SetTitle(" Downlinks ")

	devicesView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	devicesView.SetBorder(true).SetTitle(" Devices ")

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(MaxDisplayedEvents)
	eventsView.SetBorder(true).SetTitle(" Events & Errors ")

	statusView := tview.NewTextView().
		SetDynamicColors(true)
	statusView.SetBorder(true).SetTitle(" Status ")

	top := tview.NewFlex().
		AddItem(downlinksView, 0, 3, true).
		AddItem(devicesView, 48, 0, false)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(top, 0, 3, true).
		AddItem(eventsView, 0, 1, false).
		AddItem(statusView, 3, 0, false)

	return &Dashboard{
		app:           app,
		downlinksView: downlinksView,
		devicesView:   devicesView,
		eventsView:    eventsView,
		statusView:    statusView,
		flex:          flex,
		truncate:      truncate,
		devices:       make(map[string]*deviceSummary),
	}
}

func (d *Dashboard) Start(ctx context.Context) error {
	d.app.SetRoot(d.flex, true)

	focusOrder := []tview.Primitive{d.downlinksView, d.devicesView, d.eventsView}

	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC, tcell.KeyEscape:
			d.app.Stop()
			return nil
		case tcell.KeyTab:
			current := d.app.GetFocus()
			next := focusOrder[0]
			for i, p := range focusOrder {
				if p == current {
					next = focusOrder[(i+1)%len(focusOrder)]
					break
				}
			}
			d.app.SetFocus(next)
			return nil
		case tcell.KeyCtrlL:
			d.refreshAllDownlinks()
			return nil
		}
		return event
	})

	go func() {
		<-ctx.Done()
		d.app.QueueUpdateDraw(func() {
			d.app.Stop()
		})
	}()

	return d.app.Run()
}

func (d *Dashboard) Stop() {
	go func() {
		time.Sleep(10 * time.Millisecond)
		d.app.Stop()
	}()
}

// AddDownlink appends a published downlink and updates its device summary
func (d *Dashboard) AddDownlink(row DownlinkRow) {
	d.mu.Lock()
	d.downlinks = append(d.downlinks, row)
	if len(d.downlinks) > MaxDisplayedDownlinks {
		d.downlinks = d.downlinks[1:]
	}
	summary := d.devices[row.DeviceID]
	if summary == nil {
		summary = &deviceSummary{id: row.DeviceID, color: row.Color}
		d.devices[row.DeviceID] = summary
	}
	summary.count++
	summary.lastSeen = row.Timestamp
	if row.Reading != nil {
		summary.hasReading = true
		summary.battery = row.Reading.Battery
		summary.temperature = row.Reading.Temperature
	}
	devices := d.renderDevices()
	d.mu.Unlock()

	formatted := d.formatDownlinkForDisplay(row)
	d.app.QueueUpdateDraw(func() {
		fmt.Fprintf(d.downlinksView, "%s\n", formatted)
		d.downlinksView.ScrollToEnd()
		d.devicesView.SetText(devices)
	})
}

func (d *Dashboard) AddEvent(msg string) {
	d.addEvent("green", msg)
}

func (d *Dashboard) AddError(err error) {
	if err == nil {
		return
	}
	d.addEvent("red", err.Error())
}

func (d *Dashboard) addEvent(color, msg string) {
	timestamp := time.Now().Format("15:04:05.000")
	formatted := fmt.Sprintf("[yellow]%s[white] [%s]%s[white]\n", timestamp, color, tview.Escape(msg))

	d.app.QueueUpdateDraw(func() {
		fmt.Fprint(d.eventsView, formatted)
		d.eventsView.ScrollToEnd()
	})
}

func (d *Dashboard) UpdateStatus(status string) {
	d.app.QueueUpdateDraw(func() {
		d.statusView.Clear()
		fmt.Fprintf(d.statusView, " %s | Press Ctrl+C or Esc to quit | Tab to switch views", status)
	})
}

// renderDevices must be called with d.mu held
func (d *Dashboard) renderDevices() string {
	ids := make([]string, 0, len(d.devices))
	for id := range d.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		s := d.devices[id]
		fmt.Fprintf(&sb, "[%s]%s[white] %5d", s.color, s.id, s.count)
		if s.hasReading {
			fmt.Fprintf(&sb, " %3d%% %6.2f°C", s.battery, s.temperature)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (d *Dashboard) getTerminalWidth() int {
	if d.downlinksView != nil {
		_, _, width, _ := d.downlinksView.GetInnerRect()
		if width > 10 {
			return width
		}
	}
	return 120
}

func (d *Dashboard) formatDownlinkForDisplay(row DownlinkRow) string {
	timestamp := row.Timestamp.Format("15:04:05.000")
	color := row.Color
	if color == "" {
		color = "cyan"
	}

	if !d.truncate {
		return fmt.Sprintf("[yellow]%s[white] [%s]%s[white] [green]%s[white] %s",
			timestamp, color, row.DeviceID, row.DisplayTopic, tview.Escape(row.Payload))
	}

	displayTopic := row.DisplayTopic
	if len(displayTopic) > MaxTopicDisplayWidth {
		displayTopic = truncateText(displayTopic, TruncatedTopicWidth)
	}

	prefix := fmt.Sprintf("[yellow]%s[white] [%s]%s[white] [green]%s[white] ",
		timestamp, color, truncateText(row.DeviceID, MaxDeviceDisplayWidth), displayTopic)

	available := d.getTerminalWidth() - getVisibleLength(prefix)
	if available < MinimumPayloadWidth {
		available = MinimumPayloadWidth
	}

	return prefix + tview.Escape(truncateText(row.Payload, available))
}

func (d *Dashboard) refreshAllDownlinks() {
	d.mu.Lock()
	rows := append([]DownlinkRow(nil), d.downlinks...)
	d.mu.Unlock()

	d.app.QueueUpdateDraw(func() {
		d.downlinksView.Clear()
		for _, row := range rows {
			fmt.Fprintf(d.downlinksView, "%s\n", d.formatDownlinkForDisplay(row))
		}
		d.downlinksView.ScrollToEnd()
	})
}

func truncateText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if len(text) <= maxWidth {
		return text
	}
	if maxWidth <= EllipsisLength {
		return text[:maxWidth]
	}
	return text[:maxWidth-EllipsisLength] + "..."
}

func getVisibleLength(text string) int {
	// Remove all tview color tags to get actual visible length
	result := text
	for {
		start := strings.Index(result, "[")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "]")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+1:]
	}
	return len(result)
}
