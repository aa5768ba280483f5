// Command lessonview-desktop is a native window around the lesson server.
// Pass a directory or lesson file to open it on launch.
package main

import (
	"log"
	"os"
	goruntime "runtime"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/menu"
	"github.com/wailsapp/wails/v2/pkg/menu/keys"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

const docsURL = "https://github.com/livetemplate/lessonview"

func main() {
	app := NewApp(recentFile())
	m := newAppMenu(app)
	app.onRecentChange = m.refreshRecent

	err := wails.Run(&options.App{
		Title:            "Lessonview",
		Width:            1280,
		Height:           800,
		MinWidth:         800,
		MinHeight:        600,
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		Menu:             m.root,
		AssetServer:      &assetserver.Options{Handler: app.GetHandler()},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind:             []any{app},
		Mac: &mac.Options{
			TitleBar: mac.TitleBarDefault(),
			About: &mac.AboutInfo{
				Title:   "Lessonview",
				Message: "Interactive lesson viewer.",
			},
		},
	})
	if err != nil {
		log.Printf("[Desktop] %v", err)
		os.Exit(1)
	}
}

// appMenu is the application menu. Its Open Recent submenu follows the
// recent list.
type appMenu struct {
	app    *App
	root   *menu.Menu
	recent *menu.Menu
}

func newAppMenu(app *App) *appMenu {
	m := &appMenu{app: app, root: menu.NewMenu(), recent: menu.NewMenu()}

	file := m.root.AddSubmenu("File")
	file.AddText("Open Lesson...", keys.CmdOrCtrl("o"), func(*menu.CallbackData) { m.report(app.OpenFile()) })
	file.AddText("Open Directory...", keys.CmdOrCtrl("shift+o"), func(*menu.CallbackData) { m.report(app.OpenDirectory()) })
	file.Append(&menu.MenuItem{Label: "Open Recent", Type: menu.SubmenuType, SubMenu: m.recent})
	m.fillRecent()
	if goruntime.GOOS != "darwin" {
		file.AddSeparator()
		file.AddText("Exit", keys.OptionOrAlt("F4"), func(*menu.CallbackData) { runtime.Quit(app.ctx) })
	}

	if goruntime.GOOS == "darwin" {
		m.root.Append(menu.EditMenu())
	}

	view := m.root.AddSubmenu("View")
	view.AddText("Lesson Index", keys.CmdOrCtrl("l"), func(*menu.CallbackData) {
		if url := app.GetServerURL(); url != "" {
			runtime.EventsEmit(app.ctx, "navigate", url)
		}
	})
	view.AddText("Reload", keys.CmdOrCtrl("r"), func(*menu.CallbackData) { runtime.WindowReload(app.ctx) })
	view.AddText("Toggle Full Screen", keys.Key("F11"), func(*menu.CallbackData) {
		if runtime.WindowIsFullscreen(app.ctx) {
			runtime.WindowUnfullscreen(app.ctx)
		} else {
			runtime.WindowFullscreen(app.ctx)
		}
	})

	help := m.root.AddSubmenu("Help")
	help.AddText("Documentation", nil, func(*menu.CallbackData) { runtime.BrowserOpenURL(app.ctx, docsURL) })
	help.AddText("Report Issue", nil, func(*menu.CallbackData) { runtime.BrowserOpenURL(app.ctx, docsURL+"/issues") })
	return m
}

func (m *appMenu) fillRecent() {
	dirs := m.app.GetRecent()
	if len(dirs) == 0 {
		m.recent.Append(&menu.MenuItem{Label: "No Recent Directories", Type: menu.TextType, Disabled: true})
		return
	}
	for _, dir := range dirs {
		m.recent.AddText(dir, nil, func(*menu.CallbackData) { m.report("", m.app.OpenRecent(dir)) })
	}
}

func (m *appMenu) refreshRecent() {
	m.recent.Items = nil
	m.fillRecent()
	runtime.MenuUpdateApplicationMenu(m.app.ctx)
}

// report shows a failed open in a dialog.
func (m *appMenu) report(_ string, err error) {
	if err == nil {
		return
	}
	runtime.MessageDialog(m.app.ctx, runtime.MessageDialogOptions{
		Type:    runtime.ErrorDialog,
		Title:   "Could not open",
		Message: err.Error(),
	})
}
