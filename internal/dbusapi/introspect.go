package dbusapi

import "github.com/godbus/dbus/v5/introspect"

const introspectXML = `
<node>
  <interface name="` + Interface + `">
    <method name="GetProfile">
      <arg name="profile" type="s" direction="out"/>
    </method>
    <method name="SetProfile">
      <arg name="profile" type="s" direction="in"/>
      <arg name="applied" type="as" direction="out"/>
      <arg name="skipped" type="as" direction="out"/>
      <arg name="failed" type="as" direction="out"/>
    </method>
    <method name="GetGraphics">
      <arg name="mode" type="s" direction="out"/>
    </method>
    <method name="SetGraphics">
      <arg name="mode" type="s" direction="in"/>
      <arg name="outcome" type="s" direction="out"/>
    </method>
    <method name="GetSwitchable">
      <arg name="switchable" type="b" direction="out"/>
    </method>
    <method name="GetGraphicsPower">
      <arg name="power" type="s" direction="out"/>
    </method>
    <method name="SetGraphicsPower">
      <arg name="power" type="s" direction="in"/>
    </method>
    <method name="GetPendingGraphics">
      <arg name="mode" type="s" direction="out"/>
    </method>
    <signal name="HotPlugDetect">
      <arg name="port" type="t"/>
    </signal>
    <signal name="PowerProfileSwitch">
      <arg name="profile" type="s"/>
    </signal>
  </interface>` + introspect.IntrospectDeclarationString + `</node>`
