// Package names collects the D-Bus names used to talk to oFono: the service
// name, interface names, method and signal members, property names, and the
// tables mapping textual enum values onto integers.
package names

// Service is the well-known bus name oFono owns on the system bus.
const Service = "org.ofono"

// Interfaces.
const (
	Manager             = Service + ".Manager"
	Modem               = Service + ".Modem"
	SimManager          = Service + ".SimManager"
	ConnectionManager   = Service + ".ConnectionManager"
	ConnectionContext   = Service + ".ConnectionContext"
	NetworkRegistration = Service + ".NetworkRegistration"

	AudioSettings     = Service + ".AudioSettings"
	CallBarring       = Service + ".CallBarring"
	CallForwarding    = Service + ".CallForwarding"
	CallMeter         = Service + ".CallMeter"
	CallSettings      = Service + ".CallSettings"
	CallVolume        = Service + ".CallVolume"
	CellBroadcast     = Service + ".CellBroadcast"
	Handsfree         = Service + ".Handsfree"
	LocationReporting = Service + ".LocationReporting"
	MessageManager    = Service + ".MessageManager"
	MessageWaiting    = Service + ".MessageWaiting"
	Phonebook         = Service + ".Phonebook"
	PushNotification  = Service + ".PushNotification"
	RadioSettings     = Service + ".RadioSettings"
	SmartMessaging    = Service + ".SmartMessaging"
	SimToolkit        = Service + ".SimToolkit"
	TextTelephony     = Service + ".TextTelephony"
	VoiceCallManager  = Service + ".VoiceCallManager"
)

// ManagerPath is the object path of org.ofono.Manager.
const ManagerPath = "/"

// Methods and signals shared by most interfaces.
const (
	GetProperties   = "GetProperties"
	SetProperty     = "SetProperty"
	PropertyChanged = "PropertyChanged"
)

// Manager members.
const (
	GetModems    = "GetModems"
	ModemAdded   = "ModemAdded"
	ModemRemoved = "ModemRemoved"
)

// ConnectionManager and ConnectionContext members.
const (
	GetContexts      = "GetContexts"
	ContextAdded     = "ContextAdded"
	ContextRemoved   = "ContextRemoved"
	ProvisionContext = "ProvisionContext"
)

// SimManager members.
const (
	EnterPin  = "EnterPin"
	ResetPin  = "ResetPin"
	ChangePin = "ChangePin"
	LockPin   = "LockPin"
	UnlockPin = "UnlockPin"
)

// NetworkRegistration members.
const (
	Register = "Register"
)

// Modem properties.
const (
	ModemPowered      = "Powered"
	ModemOnline       = "Online"
	ModemLockdown     = "Lockdown"
	ModemEmergency    = "Emergency"
	ModemName         = "Name"
	ModemManufacturer = "Manufacturer"
	ModemModel        = "Model"
	ModemRevision     = "Revision"
	ModemSerial       = "Serial"
	ModemType         = "Type"
	ModemFeatures     = "Features"
	ModemInterfaces   = "Interfaces"
)

// SimManager properties.
const (
	SimPresent     = "Present"
	SimIMSI        = "SubscriberIdentity"
	SimMCC         = "MobileCountryCode"
	SimMNC         = "MobileNetworkCode"
	SimSPN         = "ServiceProviderName"
	SimPinRequired = "PinRequired"
)

// ConnectionManager properties.
const (
	ConnMgrAttached       = "Attached"
	ConnMgrRoamingAllowed = "RoamingAllowed"
	ConnMgrPowered        = "Powered"
)

// ConnectionContext properties and settings keys.
const (
	ConnCtxType         = "Type"
	ConnCtxActive       = "Active"
	ConnCtxAPN          = "AccessPointName"
	ConnCtxAuth         = "AuthenticationMethod"
	ConnCtxName         = "Name"
	ConnCtxUsername     = "Username"
	ConnCtxPassword     = "Password"
	ConnCtxProtocol     = "Protocol"
	ConnCtxMMSProxy     = "MessageProxy"
	ConnCtxMMSCenter    = "MessageCenter"
	ConnCtxSettings     = "Settings"
	ConnCtxIPv6Settings = "IPv6.Settings"

	SettingsInterface    = "Interface"
	SettingsMethod       = "Method"
	SettingsAddress      = "Address"
	SettingsNetmask      = "Netmask"
	SettingsGateway      = "Gateway"
	SettingsPrefixLength = "PrefixLength"
	SettingsDNS          = "DomainNameServers"
)

// NetworkRegistration properties.
const (
	NetRegStatus           = "Status"
	NetRegMode             = "Mode"
	NetRegCellID           = "CellId"
	NetRegLocationAreaCode = "LocationAreaCode"
	NetRegTechnology       = "Technology"
	NetRegMCC              = "MobileCountryCode"
	NetRegMNC              = "MobileNetworkCode"
	NetRegName             = "Name"
	NetRegStrength         = "Strength"
)
