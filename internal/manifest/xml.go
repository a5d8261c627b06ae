package manifest

import (
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/beevik/etree"
)

// Element and attribute names of the manifest document.
const (
	tagManifest   = "ExportManifest"
	tagInfo       = "ExportManifestInformation"
	tagEntity     = "ExportManifestEntity"
	tagDatasource = "ExportManifestDatasource"
	tagMondrian   = "ExportManifestMondrian"
	tagMetadata   = "ExportManifestMetadata"
	tagSchedule   = "ExportManifestSchedule"
	tagUser       = "ExportManifestUser"
	tagRole       = "ExportManifestRole"

	// encodingBase64 marks a value that XML cannot carry verbatim. An
	// attribute gets a sibling "<name>Encoding" attribute, element text an
	// "encoding" attribute.
	encodingBase64 = "base64"
)

// XML is the etree based manifest codec.
type XML struct {
	// Indent is the number of spaces per nesting level; 0 writes compact XML.
	Indent int
}

// WriteXML implements Encoder.
func (x XML) WriteXML(m *Manifest, w io.Writer) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(tagManifest)

	info := root.CreateElement(tagInfo)
	writeAttr(info, "rootFolder", m.info.RootFolder)
	setAttr(info, "exportId", m.info.ExportID)
	setAttr(info, "exportBy", m.info.ExportBy)
	setTime(info, "exportDate", m.info.ExportDate)

	for _, e := range m.entities {
		el := root.CreateElement(tagEntity)
		writeAttr(el, "path", e.Path)
		writeAttr(el, "archivePath", e.ArchivePath)
		el.CreateAttr("folder", strconv.FormatBool(e.Folder))
	}

	for _, d := range m.datasources {
		el := root.CreateElement(tagDatasource)
		writeAttr(el, "name", d.Name)
		setAttr(el, "databaseType", d.DatabaseType)
		setAttr(el, "access", d.Access)
		setAttr(el, "hostname", d.Host)
		setAttr(el, "port", d.Port)
		setAttr(el, "databaseName", d.DatabaseName)
		setAttr(el, "username", d.Username)
		setAttr(el, "password", d.Password)
		keys := make([]string, 0, len(d.Attributes))
		for k := range d.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			a := el.CreateElement("attribute")
			writeAttr(a, "name", k)
			writeAttr(a, "value", d.Attributes[k])
		}
	}

	for _, mo := range m.mondrian {
		el := root.CreateElement(tagMondrian)
		if mo == nil {
			continue
		}
		writeAttr(el, "catalogName", mo.CatalogName)
		writeAttr(el, "file", mo.File)
	}

	for _, md := range m.metadata {
		el := root.CreateElement(tagMetadata)
		writeAttr(el, "domainId", md.DomainID)
		writeAttr(el, "file", md.File)
	}

	for _, s := range m.schedules {
		el := root.CreateElement(tagSchedule)
		writeAttr(el, "jobName", s.JobName)
		setAttr(el, "actionUser", s.ActionUser)
		setAttr(el, "inputFile", s.InputFile)
		setAttr(el, "outputFile", s.OutputFile)
		setTime(el, "startTime", s.StartTime)
		setTime(el, "endTime", s.EndTime)
		setAttr(el, "timeZone", s.TimeZone)
		switch {
		case s.Cron != nil:
			writeAttr(el.CreateElement("cronJobTrigger"), "cronString", s.Cron.Expression)
		case s.Simple != nil:
			t := el.CreateElement("simpleJobTrigger")
			t.CreateAttr("repeatInterval", strconv.FormatInt(s.Simple.RepeatInterval.Milliseconds(), 10))
			t.CreateAttr("repeatCount", strconv.Itoa(s.Simple.RepeatCount))
		}
		for _, p := range s.Params {
			pe := el.CreateElement("jobParameter")
			writeAttr(pe, "name", p.Name)
			writeAttr(pe, "value", p.Value)
		}
	}

	for _, u := range m.users {
		el := root.CreateElement(tagUser)
		writeAttr(el, "username", u.Username)
		for _, r := range u.Roles {
			writeText(el.CreateElement("role"), r)
		}
	}

	for _, r := range m.roles {
		el := root.CreateElement(tagRole)
		writeAttr(el, "rolename", r.Name)
		for _, p := range r.Permissions {
			writeText(el.CreateElement("permission"), p)
		}
	}

	if x.Indent > 0 {
		doc.Indent(x.Indent)
	}
	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("writing manifest xml: %w", err)
	}
	return nil
}

func setAttr(el *etree.Element, key, value string) {
	if value != "" {
		writeAttr(el, key, value)
	}
}

func writeAttr(el *etree.Element, key, value string) {
	if !xmlSafe(value) {
		el.CreateAttr(key, base64.StdEncoding.EncodeToString([]byte(value)))
		el.CreateAttr(key+"Encoding", encodingBase64)
		return
	}
	el.CreateAttr(key, value)
}

// writeText sets element text. Whitespace-only text is encoded too since
// indenting strips it.
func writeText(el *etree.Element, value string) {
	if !xmlSafe(value) || (value != "" && strings.TrimSpace(value) == "") {
		el.CreateAttr("encoding", encodingBase64)
		el.SetText(base64.StdEncoding.EncodeToString([]byte(value)))
		return
	}
	el.SetText(value)
}

// xmlSafe reports whether s survives a write and parse unchanged: valid
// UTF-8 with no control characters. Parsers fold CR into LF.
func xmlSafe(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f || r == 0xfffe || r == 0xffff {
			return false
		}
	}
	return true
}

func setTime(el *etree.Element, key string, t time.Time) {
	if !t.IsZero() {
		el.CreateAttr(key, t.UTC().Format(time.RFC3339Nano))
	}
}

// Parse reads a manifest written by XML.WriteXML.
func Parse(r io.Reader) (*Manifest, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("parsing manifest xml: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != tagManifest {
		return nil, fmt.Errorf("parsing manifest xml: missing %s root element", tagManifest)
	}

	m := &Manifest{}
	for _, el := range root.ChildElements() {
		var err error
		switch el.Tag {
		case tagInfo:
			err = parseInfo(m, el)
		case tagEntity:
			a := attrs{el: el}
			e := Entity{
				Path:        a.get("path"),
				ArchivePath: a.get("archivePath"),
				Folder:      a.get("folder") == "true",
			}
			m.entities = append(m.entities, e)
			err = a.err
		case tagDatasource:
			var d Datasource
			d, err = parseDatasource(el)
			m.datasources = append(m.datasources, d)
		case tagMondrian:
			if len(el.Attr) == 0 {
				m.mondrian = append(m.mondrian, nil)
				continue
			}
			a := attrs{el: el}
			m.mondrian = append(m.mondrian, &Mondrian{CatalogName: a.get("catalogName"), File: a.get("file")})
			err = a.err
		case tagMetadata:
			a := attrs{el: el}
			m.metadata = append(m.metadata, Metadata{DomainID: a.get("domainId"), File: a.get("file")})
			err = a.err
		case tagSchedule:
			var s Schedule
			s, err = parseSchedule(el)
			m.schedules = append(m.schedules, s)
		case tagUser:
			a := attrs{el: el}
			u := User{Username: a.get("username")}
			for _, r := range el.SelectElements("role") {
				u.Roles = append(u.Roles, a.text(r))
			}
			m.users = append(m.users, u)
			err = a.err
		case tagRole:
			a := attrs{el: el}
			ro := Role{Name: a.get("rolename")}
			for _, p := range el.SelectElements("permission") {
				ro.Permissions = append(ro.Permissions, a.text(p))
			}
			m.roles = append(m.roles, ro)
			err = a.err
		}
		if err != nil {
			return nil, fmt.Errorf("parsing manifest xml: %s: %w", el.Tag, err)
		}
	}
	return m, nil
}

// attrs reads values of one element, decoding encoded ones. The first
// decode failure is kept in err.
type attrs struct {
	el  *etree.Element
	err error
}

func (a *attrs) get(key string) string {
	v := a.el.SelectAttrValue(key, "")
	if a.el.SelectAttrValue(key+"Encoding", "") != encodingBase64 {
		return v
	}
	return a.decode(key, v)
}

func (a *attrs) text(el *etree.Element) string {
	if el.SelectAttrValue("encoding", "") != encodingBase64 {
		return el.Text()
	}
	return a.decode(el.Tag, el.Text())
}

func (a *attrs) decode(key, v string) string {
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		if a.err == nil {
			a.err = fmt.Errorf("%s: %w", key, err)
		}
		return ""
	}
	return string(b)
}

func parseInfo(m *Manifest, el *etree.Element) error {
	a := attrs{el: el}
	m.info.RootFolder = a.get("rootFolder")
	m.info.ExportID = a.get("exportId")
	m.info.ExportBy = a.get("exportBy")
	m.rootSet = el.SelectAttr("rootFolder") != nil
	if a.err != nil {
		return a.err
	}
	t, err := parseTime(el, "exportDate")
	if err != nil {
		return err
	}
	m.info.ExportDate = t
	return nil
}

func parseDatasource(el *etree.Element) (Datasource, error) {
	a := attrs{el: el}
	d := Datasource{
		Name:         a.get("name"),
		DatabaseType: a.get("databaseType"),
		Access:       a.get("access"),
		Host:         a.get("hostname"),
		Port:         a.get("port"),
		DatabaseName: a.get("databaseName"),
		Username:     a.get("username"),
		Password:     a.get("password"),
	}
	for _, ae := range el.SelectElements("attribute") {
		if d.Attributes == nil {
			d.Attributes = make(map[string]string)
		}
		aa := attrs{el: ae}
		d.Attributes[aa.get("name")] = aa.get("value")
		if aa.err != nil && a.err == nil {
			a.err = aa.err
		}
	}
	return d, a.err
}

func parseSchedule(el *etree.Element) (Schedule, error) {
	a := attrs{el: el}
	s := Schedule{
		JobName:    a.get("jobName"),
		ActionUser: a.get("actionUser"),
		InputFile:  a.get("inputFile"),
		OutputFile: a.get("outputFile"),
		TimeZone:   a.get("timeZone"),
	}
	if a.err != nil {
		return s, a.err
	}
	var err error
	if s.StartTime, err = parseTime(el, "startTime"); err != nil {
		return s, err
	}
	if s.EndTime, err = parseTime(el, "endTime"); err != nil {
		return s, err
	}
	if c := el.SelectElement("cronJobTrigger"); c != nil {
		ca := attrs{el: c}
		s.Cron = &CronTrigger{Expression: ca.get("cronString")}
		if ca.err != nil {
			return s, ca.err
		}
	}
	if t := el.SelectElement("simpleJobTrigger"); t != nil {
		ms, err := strconv.ParseInt(t.SelectAttrValue("repeatInterval", "0"), 10, 64)
		if err != nil {
			return s, fmt.Errorf("repeatInterval: %w", err)
		}
		count, err := strconv.Atoi(t.SelectAttrValue("repeatCount", "0"))
		if err != nil {
			return s, fmt.Errorf("repeatCount: %w", err)
		}
		s.Simple = &SimpleTrigger{RepeatInterval: time.Duration(ms) * time.Millisecond, RepeatCount: count}
	}
	for _, p := range el.SelectElements("jobParameter") {
		pa := attrs{el: p}
		s.Params = append(s.Params, Param{Name: pa.get("name"), Value: pa.get("value")})
		if pa.err != nil {
			return s, pa.err
		}
	}
	return s, nil
}

func parseTime(el *etree.Element, key string) (time.Time, error) {
	v := el.SelectAttrValue(key, "")
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}
